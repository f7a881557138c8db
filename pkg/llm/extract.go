package llm

import (
	"regexp"
	"strings"
)

// fencePattern matches the first triple-backtick fenced block. The opening
// fence may carry a language tag; the block contents run to the next fence.
var fencePattern = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")

// ExtractCode returns the contents of the first fenced code block in text,
// trimmed. When no fence is present the whole text is returned trimmed.
func ExtractCode(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
