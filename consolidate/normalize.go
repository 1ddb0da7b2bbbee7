package consolidate

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jmurren/spintally/rules"
)

// UnknownAttribution is the sentinel grouping value for records with an
// empty artist credit, so unattributed entities still group together
// instead of colliding on the empty string.
const UnknownAttribution = "unknown artist"

const keySep = "\x1f"

// Trailing qualifier words stripped when computing the heuristic base name,
// including misspellings that show up in regional metadata.
var qualifierWords = []string{
	"remastered",
	"remasterd",
	"remastred",
	"remaster",
	"deluxe",
	"delux",
	"explicit",
	"anniversary",
	"aniversary",
	"edition",
	"editon",
	"version",
	"versión",
}

var reBracketed = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)

// FoldAttribution case-folds and trims an artist credit, substituting the
// unknown sentinel for blank values. Attribution is always the outer
// grouping dimension: the pipeline never merges across different values.
func FoldAttribution(s string) string {
	folded := strings.ToLower(strings.TrimSpace(s))
	if folded == "" {
		return UnknownAttribution
	}
	return folded
}

func foldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Key derives the grouping key for a record's attribution and display name.
// Names group only when byte-identical after case/whitespace folding,
// unless a rule in store says a variant maps to a canonical name. Pure for
// a fixed store: the same inputs always yield the same key.
func Key(store rules.Store, attribution, name string) string {
	att := FoldAttribution(attribution)
	folded := foldName(name)
	if canonical, ok := store.Lookup(att, folded); ok {
		return att + keySep + canonical
	}
	return att + keySep + folded
}

// BaseName computes the heuristic base used to find merge CANDIDATES, not
// final grouping keys: strip parenthetical/bracketed suffixes, fold
// diacritics, then peel trailing qualifier words ("remastered", "deluxe",
// ...). "Abbey Road (Remastered)" and "Abbey Road" land on the same base
// so the pair is offered to the resolver.
func BaseName(name string) string {
	s := reBracketed.ReplaceAllString(name, " ")
	s = stripDiacritics(strings.ToLower(s))
	s = strings.Join(strings.Fields(s), " ")

	for {
		trimmed := strings.TrimRight(s, " -–—,:")
		cut := false
		for _, q := range qualifierWords {
			if strings.HasSuffix(trimmed, " "+q) {
				trimmed = strings.TrimSuffix(trimmed, " "+q)
				cut = true
				break
			}
		}
		trimmed = strings.TrimRight(trimmed, " -–—,:")
		if !cut && trimmed == s {
			break
		}
		s = trimmed
	}

	if s == "" {
		// Qualifier-only names ("Deluxe") keep their folded form rather
		// than clustering with every other stripped-to-nothing name.
		return foldName(name)
	}
	return s
}

func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	out := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.IsMark(r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
