package telegram

import "strings"

// maxTelegramMessage stays under Telegram's 4096 limit.
const maxTelegramMessage = 4000

// splitMessage splits text into chunks of at most maxLen bytes, preferring
// paragraph, then line, then sentence, then word boundaries.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}
		splitAt := findSplitPoint(remaining, maxLen)
		if chunk := strings.TrimSpace(remaining[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[splitAt:])
	}
	return chunks
}

func findSplitPoint(text string, maxLen int) int {
	if len(text) <= maxLen {
		return len(text)
	}
	area := text[:maxLen]

	if idx := strings.LastIndex(area, "\n\n"); idx > maxLen/2 {
		return idx + 2
	}
	if idx := strings.LastIndex(area, "\n"); idx > maxLen/2 {
		return idx + 1
	}
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(area, sep); idx > maxLen/2 {
			return idx + len(sep)
		}
	}
	if idx := strings.LastIndex(area, " "); idx > maxLen/2 {
		return idx + 1
	}

	// hard split, backed off to a rune boundary
	at := maxLen
	for at > 0 && !isRuneStart(text[at]) {
		at--
	}
	if at == 0 {
		return maxLen
	}
	return at
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
