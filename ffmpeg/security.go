package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitOptions splits an option string into arguments without involving a
// shell. Quoted values keep their spaces.
func SplitOptions(options string) ([]string, error) {
	args, err := shlex.Split(options)
	if err != nil {
		return nil, fmt.Errorf("invalid option syntax: %w", err)
	}
	return args, nil
}

// QuoteArgs renders args as a single line that SplitOptions can split back.
// Used for the human-readable command line recorded in the task log.
func QuoteArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\") {
			parts[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a) + `"`
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
