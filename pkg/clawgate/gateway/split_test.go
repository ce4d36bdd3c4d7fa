package gateway

import (
	"strings"
	"testing"
)

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{
			name:  "short text untouched",
			text:  "hello world",
			limit: 100,
			want:  []string{"hello world"},
		},
		{
			name:  "zero limit means no split",
			text:  "hello",
			limit: 0,
			want:  []string{"hello"},
		},
		{
			name:  "blank text drops",
			text:  "  \n ",
			limit: 100,
			want:  nil,
		},
		{
			name:  "prefers newline boundary",
			text:  "line one\nline two",
			limit: 12,
			want:  []string{"line one", "line two"},
		},
		{
			name:  "falls back to space",
			text:  "alpha beta gamma",
			limit: 12,
			want:  []string{"alpha beta", "gamma"},
		},
		{
			name:  "hard cut without separators",
			text:  "abcdefghij",
			limit: 4,
			want:  []string{"abcd", "efgh", "ij"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitMessage(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d chunks %v, got %d: %v", len(tt.want), tt.want, len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSplitMessage_RespectsLimit(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("word ", 2000)
	for _, chunk := range SplitMessage(text, 4096) {
		if len(chunk) > 4096 {
			t.Fatalf("chunk exceeds limit: %d bytes", len(chunk))
		}
		if strings.TrimSpace(chunk) == "" {
			t.Fatal("produced an empty chunk")
		}
	}
}
