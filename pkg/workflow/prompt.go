package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forgeflow/forgeflow/pkg/errors"
)

// SegmentKind discriminates the two segment variants.
type SegmentKind string

const (
	// SegmentPrompt carries literal prompt text.
	SegmentPrompt SegmentKind = "prompt"
	// SegmentFile carries a resolved file path whose contents are
	// substituted at materialization time.
	SegmentFile SegmentKind = "file"
)

// Segment is one element of a rendered prompt: either literal text or a
// file reference. The segment sequence preserves the interleaving of text
// and {{name}} tokens, which is observable by the LLM.
type Segment struct {
	Kind  SegmentKind `json:"type"`
	Value string      `json:"value"`
}

// tokenPattern matches {{name}} file-reference tokens.
var tokenPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// RenderPrompts expands the prompt inputs into an ordered segment sequence.
// Tokens are resolved left to right against nameToPath; text between tokens
// becomes trimmed prompt segments (empty ones dropped). Segments from
// consecutive prompt inputs are concatenated in user-specified order.
// An unknown token name is a configuration error.
func RenderPrompts(inputs []PromptInput, nameToPath map[string]string) ([]Segment, error) {
	var segments []Segment

	for _, in := range inputs {
		content := in.Content
		last := 0
		for _, loc := range tokenPattern.FindAllStringSubmatchIndex(content, -1) {
			if text := strings.TrimSpace(content[last:loc[0]]); text != "" {
				segments = append(segments, Segment{Kind: SegmentPrompt, Value: text})
			}

			name := strings.TrimSpace(content[loc[2]:loc[3]])
			path, ok := nameToPath[name]
			if !ok {
				return nil, &errors.ValidationError{
					Field:   "promptInputs",
					Message: fmt.Sprintf("prompt references unknown file input %q", name),
				}
			}
			segments = append(segments, Segment{Kind: SegmentFile, Value: path})

			last = loc[1]
		}
		if text := strings.TrimSpace(content[last:]); text != "" {
			segments = append(segments, Segment{Kind: SegmentPrompt, Value: text})
		}
	}

	return segments, nil
}
