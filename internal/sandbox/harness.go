package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	harnessFile = "harness.py"
	scriptFile  = "script.py"

	// resultFD is the descriptor the harness writes the encoded return
	// value to. It is the first entry of exec.Cmd.ExtraFiles.
	resultFD = 3
)

// harnessSource runs script.py in its own namespace, calls main() and
// reports the JSON-encoded return value on both stdout and the result
// channel. Names it depends on are bound before the submitted code runs.
var harnessSource = fmt.Sprintf(`import json
import os
import sys
import traceback

_dumps = json.dumps
_stdout = sys.__stdout__
_stderr = sys.__stderr__


def _run():
    channel = os.fdopen(%d, "w", encoding="utf-8")
    path = sys.argv[1]
    with open(path, encoding="utf-8") as f:
        source = f.read()
    sys.argv = [path]
    namespace = {"__name__": "__main__", "__file__": path}
    try:
        exec(compile(source, path, "exec"), namespace)
        entry = namespace.get("main")
        if not callable(entry):
            raise NameError("name 'main' is not defined")
        result = entry()
    except Exception as e:
        traceback.print_exc(file=_stderr)
        print(f"Error in main(): {e}", file=_stderr)
        _stderr.flush()
        return 1

    try:
        line = _dumps(result, allow_nan=False)
    except Exception as e:
        channel.write("!unserializable %%s: %%s" %% (type(result).__name__, e))
        channel.close()
        return 0

    _stdout.write(line + "\n")
    _stdout.flush()
    channel.write(line)
    channel.close()
    return 0


sys.exit(_run())
`, resultFD)

// Unit is a materialized execution unit: a scratch directory holding the
// submitted script and the harness that invokes it.
type Unit struct {
	ID  string
	Dir string
}

// BuildUnit writes code and the harness into a fresh directory under root.
// The caller owns the returned unit and must call Remove.
func BuildUnit(root, code string) (*Unit, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root: %w", err)
	}

	id := uuid.New().String()
	dir := filepath.Join(root, "run-"+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	u := &Unit{ID: id, Dir: dir}
	if err := os.WriteFile(filepath.Join(dir, scriptFile), []byte(code), 0o600); err != nil {
		u.Remove()
		return nil, fmt.Errorf("writing script file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, harnessFile), []byte(harnessSource), 0o600); err != nil {
		u.Remove()
		return nil, fmt.Errorf("writing harness file: %w", err)
	}
	return u, nil
}

// Args returns the interpreter arguments that run the unit from its directory.
func (u *Unit) Args() []string {
	// -I: isolated mode (no user site, no PYTHON* env), -B: no .pyc, -u: unbuffered
	return []string{"-I", "-B", "-u", harnessFile, scriptFile}
}

// Env returns the minimal environment the unit runs with.
func (u *Unit) Env() []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + u.Dir,
		"TMPDIR=" + u.Dir,
		"LANG=C.UTF-8",
	}
}

// Remove deletes the unit's scratch directory.
func (u *Unit) Remove() error {
	return os.RemoveAll(u.Dir)
}
