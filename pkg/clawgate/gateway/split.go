// split.go breaks long outbound text into platform-sized chunks, preferring
// newline boundaries, then spaces, then a hard cut.
package gateway

import "strings"

// SplitMessage splits text into chunks of at most limit bytes. Boundaries
// are chosen in order of preference: the last newline in the window, the
// last space, then a hard cut mid-word. Empty chunks are never produced.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		window := text[:limit]
		cut := strings.LastIndexByte(window, '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(window, ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		chunk := strings.TrimRight(text[:cut], " \n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if strings.TrimSpace(text) != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
