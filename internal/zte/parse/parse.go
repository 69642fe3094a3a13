// Package parse turns ZTE C320 show-command output into typed rows.
//
// Each parser owns one output format. Formats are positional tables or
// "key: value" blocks; fixtures under testdata pin the layouts the parsers accept.
package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/fibercore/internal/zte"
)

// FormatError reports device output that does not match the expected layout
type FormatError struct {
	Format string
	Line   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("parse %s: %s", e.Format, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s: %q", e.Format, e.Reason, e.Line)
}

// promptLine matches a CLI prompt echo such as "ZXAN#" or "ZXAN(config)#show card"
var promptLine = regexp.MustCompile(`^[\w.-]+(\([\w-]+\))?[#>]`)

// IsSuccessful reports whether a configuration batch was accepted
func IsSuccessful(output string) bool {
	return strings.Contains(output, zte.SuccessMarker)
}

// IsEmpty reports whether a show command found nothing
func IsEmpty(output string) bool {
	return strings.Contains(output, zte.NoInformationMarker)
}

// lines splits output on CR/LF and trims each line
func lines(output string) []string {
	raw := strings.Split(strings.ReplaceAll(output, "\r", ""), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		out = append(out, strings.TrimSpace(line))
	}
	return out
}

func isSeparator(line string) bool {
	return len(line) > 3 && strings.Trim(line, "-") == ""
}

func isPrompt(line string) bool {
	return promptLine.MatchString(line)
}
