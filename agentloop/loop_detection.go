package agentloop

import (
	"crypto/sha256"
	"fmt"

	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// loopWindow is how many recent tool calls DetectLoop inspects.
const loopWindow = 6

func toolCallSignature(tc unifiedllm.ToolCall) string {
	h := sha256.Sum256([]byte(tc.Arguments))
	return fmt.Sprintf("%s:%x", tc.Name, h[:8])
}

// recentSignatures returns up to count tool-call signatures from the end
// of the conversation, oldest first.
func recentSignatures(msgs []unifiedllm.Message, count int) []string {
	var sigs []string
	for i := len(msgs) - 1; i >= 0 && len(sigs) < count; i-- {
		calls := msgs[i].ToolCalls
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(calls[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last window tool calls repeat a pattern
// of length 1, 2 or 3.
func DetectLoop(msgs []unifiedllm.Message, window int) bool {
	sigs := recentSignatures(msgs, window)
	if len(sigs) < window {
		return false
	}
	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		matched := true
		for i := patternLen; i < window && matched; i++ {
			matched = sigs[i] == sigs[i%patternLen]
		}
		if matched {
			return true
		}
	}
	return false
}
