package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NameKey normalizes a medicine or supplier name for identity matching:
// NFKC, Unicode case folding and collapsed whitespace.
func NameKey(name string) string {
	folded := cases.Fold().String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}

// CleanName trims and collapses whitespace but keeps the caller's casing.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
