package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/scriptd/internal/config"
	"github.com/michaelbrown/scriptd/internal/execution"
)

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Run a local script and print its result",
	Long: `Run a script through the same sandbox the server uses.

The decoded result is printed as JSON on stdout. Anything the script
printed goes to stderr. The exit status is non-zero on failure.

Examples:
  scriptd run job.py
  echo "def main(): return 42" | scriptd run -`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func readScript(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	code, err := readScript(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.svc.Execute(context.Background(), code)
	if err != nil {
		var e *execution.Error
		if errors.As(err, &e) && e.Detail != "" && e.Kind == execution.KindInvalidOutput {
			fmt.Fprintf(os.Stderr, "raw output: %s\n", e.Detail)
		}
		return errors.New(execution.PublicMessage(err))
	}

	fmt.Fprint(os.Stderr, res.Stdout)
	out, err := json.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
