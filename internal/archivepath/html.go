package archivepath

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&#39;",
	`"`, "&quot;",
)

// EscapeHTML escapes the five HTML-special characters.
func EscapeHTML(s string) string { return escaper.Replace(s) }
