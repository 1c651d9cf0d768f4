package webcontent

import (
	"html"
	"strings"
	"unicode/utf8"
)

// blocks whose inner text is chrome, not content.
var strippedBlocks = []string{"script", "style", "noscript", "nav", "header", "footer", "svg", "iframe", "form"}

// Sanitize reduces raw HTML to plain prose: chrome blocks removed, tags
// stripped, entities decoded, whitespace collapsed. Callers truncate after
// sanitizing so the cap applies to prose rather than markup.
func Sanitize(rawHTML string) string {
	text := rawHTML
	for _, block := range strippedBlocks {
		text = stripBlock(text, block)
	}
	text = stripTags(text)
	text = html.UnescapeString(text)
	return collapseWhitespace(text)
}

// SanitizeAndCap sanitizes then truncates to maxChars without splitting a
// UTF-8 rune.
func SanitizeAndCap(rawHTML string, maxChars int) string {
	return Truncate(Sanitize(rawHTML), maxChars)
}

func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	for maxChars > 0 && !utf8.RuneStart(text[maxChars]) {
		maxChars--
	}
	return strings.TrimSpace(text[:maxChars])
}

func stripBlock(text, tag string) string {
	lower := strings.ToLower(text)
	openTag := "<" + tag
	closeTag := "</" + tag + ">"

	builder := strings.Builder{}
	cursor := 0
	for {
		start := strings.Index(lower[cursor:], openTag)
		if start < 0 {
			builder.WriteString(text[cursor:])
			break
		}
		start += cursor
		builder.WriteString(text[cursor:start])

		end := strings.Index(lower[start:], closeTag)
		if end < 0 {
			// Unclosed block: drop the rest.
			break
		}
		cursor = start + end + len(closeTag)
	}
	return builder.String()
}

func stripTags(text string) string {
	builder := strings.Builder{}
	builder.Grow(len(text))

	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			builder.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
