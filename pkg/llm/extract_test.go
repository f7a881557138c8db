package llm

import "testing"

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fenced block with language tag",
			in:   "preface\n```tsx\nCODE\n```trailing",
			want: "CODE",
		},
		{
			name: "fenced block without language tag",
			in:   "```\nconst x = 1;\n```",
			want: "const x = 1;",
		},
		{
			name: "no fence returns trimmed text",
			in:   "  plain response  \n",
			want: "plain response",
		},
		{
			name: "only first fence is used",
			in:   "```go\nfirst\n```\nmiddle\n```go\nsecond\n```",
			want: "first",
		},
		{
			name: "multiline contents preserved",
			in:   "```jsx\nline one\n\nline two\n```",
			want: "line one\n\nline two",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractCode(tc.in); got != tc.want {
				t.Errorf("ExtractCode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
