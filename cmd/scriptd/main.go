package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "scriptd",
	Short: "scriptd - isolated Python script execution service",
	Long: `scriptd runs untrusted Python scripts in isolated child processes.

A script must define main(). Its JSON-serializable return value is reported
back together with everything the script printed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: scriptd.yaml in ., $HOME/.scriptd, /etc/scriptd)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
