package agentloop

import (
	"fmt"
	"unicode/utf8"
)

// Size ceilings applied to tool output and to the client event stream.
const (
	ReadFileLimit      = 100000
	CommandOutputLimit = 50000
	DiffLimit          = 3000
	ClientArgsLimit    = 200
	ClientResultLimit  = 500
)

// Clip returns the longest prefix of s that is at most max bytes and does
// not split a UTF-8 sequence.
func Clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TruncateFileContent caps file content sent back to the model and appends
// a marker carrying the original size.
func TruncateFileContent(content string) (string, bool) {
	if len(content) <= ReadFileLimit {
		return content, false
	}
	return Clip(content, ReadFileLimit) + fmt.Sprintf("\n\n... [truncated, %d bytes]", len(content)), true
}

// TruncateCommandOutput caps command stdout.
func TruncateCommandOutput(out string) (string, bool) {
	if len(out) <= CommandOutputLimit {
		return out, false
	}
	return Clip(out, CommandOutputLimit) + "\n... [truncated]", true
}
