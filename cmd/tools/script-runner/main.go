package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/scriptd/internal/config"
	"github.com/michaelbrown/scriptd/internal/execution"
	"github.com/michaelbrown/scriptd/internal/sandbox"
)

// maxToolOutput bounds the text returned to the client.
const maxToolOutput = 4000

func main() {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(os.Getenv("SCRIPTD_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	svc := execution.NewService(sandbox.NewProcessSandbox(cfg.Policy()), cfg.Executor.MaxConcurrent)

	s := server.NewMCPServer("scriptd-script-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name: "run_python",
		Description: "Execute a Python script in an isolated process. The script must define main(); " +
			"its return value is returned as JSON together with everything the script printed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"script": map[string]any{
					"type":        "string",
					"description": "Python source defining a main() function that returns JSON-serializable data",
				},
			},
			Required: []string{"script"},
		},
	}, newRunHandler(svc))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func newRunHandler(svc *execution.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		code, ok := args["script"].(string)
		if !ok {
			return errResult("error: 'script' is required and must be a string"), nil
		}

		res, err := svc.Execute(ctx, code)
		if err != nil {
			return errResult(truncate(execution.PublicMessage(err))), nil
		}

		value, err := json.Marshal(res.Value)
		if err != nil {
			return errResult(fmt.Sprintf("error: encoding result: %v", err)), nil
		}

		var output strings.Builder
		output.WriteString("result: ")
		output.Write(value)
		if res.Stdout != "" {
			output.WriteString("\n\nSTDOUT:\n" + res.Stdout)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: truncate(output.String())}},
		}, nil
	}
}

func truncate(text string) string {
	if len(text) <= maxToolOutput {
		return text
	}
	n := maxToolOutput
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n] + "\n... (output truncated)"
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
