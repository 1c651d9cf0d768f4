package webcontent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsChromeBlocks(t *testing.T) {
	raw := `<html><head>
		<script>window.track = function(){};</script>
		<style>body { color: red; }</style>
	</head><body>
		<nav><a href="/">Home</a><a href="/about">About</a></nav>
		<h1>Bakery &amp; Café</h1>
		<p>Fresh bread  every   morning.</p>
		<footer>© 2026</footer>
	</body></html>`

	got := Sanitize(raw)

	assert.NotContains(t, got, "window.track")
	assert.NotContains(t, got, "color: red")
	assert.NotContains(t, got, "Home")
	assert.NotContains(t, got, "©")
	assert.Contains(t, got, "Bakery & Café")
	assert.Contains(t, got, "Fresh bread every morning.")
}

func TestSanitizeCaseInsensitiveBlocks(t *testing.T) {
	got := Sanitize(`<SCRIPT>evil()</SCRIPT><p>safe</p>`)
	assert.Equal(t, "safe", got)
}

func TestSanitizeDropsUnclosedBlockTail(t *testing.T) {
	got := Sanitize(`<p>visible</p><script>everything after an unclosed script`)
	assert.Equal(t, "visible", got)
}

func TestSanitizeCollapsesWhitespace(t *testing.T) {
	got := Sanitize("line one\n\n\t  line\ttwo")
	assert.Equal(t, "line one line two", got)
}

func TestTruncateIsRuneSafe(t *testing.T) {
	text := strings.Repeat("ü", 10)
	got := Truncate(text, 11)
	assert.True(t, len(got) <= 11)
	assert.Equal(t, strings.Repeat("ü", 5), got)
}

func TestTruncateZeroCapMeansUnbounded(t *testing.T) {
	text := strings.Repeat("a", 100)
	assert.Equal(t, text, Truncate(text, 0))
}

func TestSanitizeAndCapAppliesBudgetAfterSanitizing(t *testing.T) {
	raw := "<script>" + strings.Repeat("x", 5000) + "</script><p>short content</p>"
	got := SanitizeAndCap(raw, 50)
	assert.Equal(t, "short content", got)
}
