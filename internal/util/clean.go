package util

import (
	"strings"
	"unicode/utf8"
)

const utf8BOM = "\uFEFF"

// charReplacements maps typographic characters and Windows-1252 leftovers
// that show up in imported synopses onto plain equivalents that render
// cleanly in terminal tables and JSON.
var charReplacements = map[string]string{
	"‘": "'", "’": "'", "“": `"`, "”": `"`,
	"": "'", "": "'", "": `"`, "": `"`,
	"–": "-", "—": "--", "": "-", "": "--",
	"…": "...", " ": " ", "•": "-",
}

// CleanText normalizes catalog text for display: strips a UTF-8 BOM,
// repairs invalid UTF-8, and substitutes typographic characters. Already
// clean input comes back unchanged.
func CleanText(s string) string {
	s = strings.TrimPrefix(s, utf8BOM)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	for bad, good := range charReplacements {
		s = strings.ReplaceAll(s, bad, good)
	}
	return s
}
