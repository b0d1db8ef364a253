package execution

import "strings"

// entryPoint is the declaration every submitted script must contain.
const entryPoint = "def main("

// Validate checks that code is non-empty and declares main. It is a
// textual check; a declaration inside a comment or string also passes.
func Validate(code string) error {
	if strings.TrimSpace(code) == "" {
		return &Error{Kind: KindInvalidScript, Message: "Script must be a non-empty string"}
	}
	if !strings.Contains(code, entryPoint) {
		return &Error{Kind: KindInvalidScript, Message: "Script must contain a function named 'main'"}
	}
	return nil
}
