package sandbox

import (
	"os"
	"time"
)

// Policy defines resource limits for sandbox execution.
type Policy struct {
	PythonBin      string        // interpreter used to run the harness
	ScratchDir     string        // parent of the per-run working directories
	Timeout        time.Duration // wall-clock limit per run
	MaxOutputBytes int           // cap per captured stream, 0 disables the cap
	MaxMemoryMB    int           // address space ceiling per process, 0 disables it
}

// DefaultPolicy returns safe defaults for script execution.
func DefaultPolicy() Policy {
	return Policy{
		PythonBin:      "python3",
		ScratchDir:     os.TempDir(),
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.PythonBin == "" {
		p.PythonBin = d.PythonBin
	}
	if p.ScratchDir == "" {
		p.ScratchDir = d.ScratchDir
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}
