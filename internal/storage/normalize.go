package storage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeText trims, collapses inner whitespace and title-cases s so that
// "  gaji   bulanan " is stored and displayed as "Gaji Bulanan".
func NormalizeText(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	return cases.Title(language.Und).String(collapsed)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern lowers and escapes term for a LOWER(col) LIKE ? ESCAPE '\' match.
func likePattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}
