package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportMarkdown renders a run record as a markdown document.
func ExportMarkdown(r *Run) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Run %s\n\n", r.ID))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", r.Status))
	b.WriteString(fmt.Sprintf("- **Exit code:** %d\n", r.ExitCode))
	b.WriteString(fmt.Sprintf("- **Duration:** %dms\n", r.DurationMs))
	b.WriteString(fmt.Sprintf("- **Script:** %d bytes, sha256 `%s`\n", r.ScriptBytes, r.ScriptSHA256))
	b.WriteString(fmt.Sprintf("- **Output:** %d bytes stdout, %d bytes stderr", r.StdoutBytes, r.StderrBytes))
	if r.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", r.CreatedAt.Format("2006-01-02 15:04:05")))

	if r.Error != "" {
		b.WriteString(fmt.Sprintf("\n## Error\n\n```\n%s\n```\n", r.Error))
	}

	return b.String()
}

// ExportJSON renders a run record as formatted JSON.
func ExportJSON(r *Run) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ExportYAML renders a run record as YAML.
func ExportYAML(r *Run) ([]byte, error) {
	return yaml.Marshal(r)
}
