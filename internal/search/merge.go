package search

import (
	"strings"

	"scholardock/pkg/models"
)

// mergeResults folds the per-provider lists into one, keyed by paper
// identity. The first provider's order wins; later providers only add new
// papers or fill gaps in known ones.
func mergeResults(lists ...[]models.Article) []models.Article {
	index := make(map[string]int)
	var out []models.Article

	for _, list := range lists {
		for _, a := range list {
			key := a.PaperIdentity()
			if key == "" {
				continue
			}
			if i, ok := index[key]; ok {
				out[i] = mergeArticle(out[i], a)
				continue
			}
			index[key] = len(out)
			out = append(out, a)
		}
	}
	return out
}

// mergeArticle resolves two descriptions of the same paper:
//
// - Title and order come from base.
// - Empty fields are filled from incoming.
// - Citations take the maximum; description the longer text.
// - Author links are unioned by name.
func mergeArticle(base, incoming models.Article) models.Article {
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	fill(&base.Authors, incoming.Authors)
	fill(&base.Venue, incoming.Venue)
	fill(&base.Publisher, incoming.Publisher)
	fill(&base.URL, incoming.URL)
	fill(&base.PDFURL, incoming.PDFURL)

	if len(incoming.Description) > len(base.Description) {
		base.Description = incoming.Description
	}
	if base.Year == nil && incoming.Year != nil {
		base.Year = incoming.Year
	}
	if incoming.Citations != nil && (base.Citations == nil || *incoming.Citations > *base.Citations) {
		base.Citations = incoming.Citations
		base.CitationsPerYear = incoming.CitationsPerYear
	}

	base.AuthorLinks = mergeLinks(base.AuthorLinks, incoming.AuthorLinks)
	return base
}

func mergeLinks(a, b []models.AuthorLink) []models.AuthorLink {
	out := make([]models.AuthorLink, 0, len(a)+len(b))
	out = append(out, a...)
	pos := make(map[string]int, len(a))
	for i, l := range a {
		pos[strings.ToLower(strings.TrimSpace(l.Name))] = i
	}
	for _, l := range b {
		key := strings.ToLower(strings.TrimSpace(l.Name))
		if i, ok := pos[key]; ok {
			if out[i].HomepageURL == "" {
				out[i].HomepageURL = l.HomepageURL
			}
			if out[i].ProfileURL == "" {
				out[i].ProfileURL = l.ProfileURL
			}
			continue
		}
		pos[key] = len(out)
		out = append(out, l)
	}
	return out
}
