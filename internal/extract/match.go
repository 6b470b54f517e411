package extract

import (
	"strings"
	"unicode"
)

// Assignment pairs a discovered address with the author it was attached
// to.
type Assignment struct {
	Author string
	Email  string
}

// MatchAuthors attaches addresses to unresolved authors by name. An address
// is attached only when exactly one still-unresolved author has the best
// positive score for it. When exactly one author was unresolved and no
// address matched by name, that author takes the first residue address.
// Everything else is returned as residue in discovery order.
func MatchAuthors(unresolved []string, emails []string) (matched []Assignment, residue []string) {
	taken := make(map[string]bool, len(unresolved))
	for _, e := range emails {
		best, bestScore, tie := "", 0, false
		for _, name := range unresolved {
			if taken[name] {
				continue
			}
			s := nameScore(name, e)
			switch {
			case s > bestScore:
				best, bestScore, tie = name, s, false
			case s == bestScore && s > 0:
				tie = true
			}
		}
		if bestScore > 0 && !tie {
			taken[best] = true
			matched = append(matched, Assignment{Author: best, Email: e})
			continue
		}
		residue = append(residue, e)
	}

	var remaining []string
	for _, name := range unresolved {
		if !taken[name] {
			remaining = append(remaining, name)
		}
	}
	if len(remaining) == 1 && len(unresolved) == 1 && len(residue) > 0 {
		matched = append(matched, Assignment{Author: remaining[0], Email: residue[0]})
		residue = residue[1:]
	}
	return matched, residue
}

// nameScore rates how well an address local part fits an author name:
// 4 initial+surname, 3 surname, 2 given name, 1 initials.
func nameScore(name, email string) int {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return 0
	}
	local := lettersOnly(email[:at])
	tokens := nameTokens(name)
	if local == "" || len(tokens) == 0 {
		return 0
	}
	given, surname := tokens[0], tokens[len(tokens)-1]

	if len(tokens) > 1 && len(surname) >= 2 {
		if local == given[:1]+surname || local == surname+given[:1] {
			return 4
		}
	}
	if len(tokens) > 1 && len(surname) >= 3 && strings.Contains(local, surname) {
		return 3
	}
	if len(given) >= 3 && strings.Contains(local, given) {
		return 2
	}
	if len(tokens) > 1 {
		var initials strings.Builder
		for _, t := range tokens {
			initials.WriteByte(t[0])
		}
		if local == initials.String() {
			return 1
		}
	}
	return 0
}

func nameTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f = lettersOnly(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
