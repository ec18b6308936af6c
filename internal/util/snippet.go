package util

import (
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
)

// Snippet condenses text into a one-line excerpt of at most maxChars
// characters. Whole sentences are kept while they fit; when even the
// first sentence is too long the cut falls back to the last word
// boundary. A trailing ellipsis marks any truncation.
func Snippet(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	text = strings.Join(strings.Fields(CleanText(text)), " ")
	if len(text) <= maxChars {
		return text
	}

	tokenizer := sentences.NewSentenceTokenizer(nil)
	var kept []string
	used := 0
	for _, s := range tokenizer.Tokenize(text) {
		sent := strings.TrimSpace(s.Text)
		if sent == "" {
			continue
		}
		next := used + len(sent)
		if len(kept) > 0 {
			next++ // joining space
		}
		if next > maxChars {
			break
		}
		kept = append(kept, sent)
		used = next
	}
	if len(kept) > 0 {
		return strings.Join(kept, " ") + "..."
	}

	// The first sentence alone is too long; cut at a word boundary.
	cut := text[:maxChars]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
