package dispatch

import (
	"scholardock/internal/contacted"
	"scholardock/internal/render"
	"scholardock/pkg/models"
)

// Recipient is one send target, carrying the paper it is contacted about.
type Recipient struct {
	Email         string             `json:"email"`
	Name          string             `json:"name"`
	Source        models.EmailSource `json:"source"`
	ArticleID     int64              `json:"article_id"`
	PaperIdentity string             `json:"paper_identity"`
	PaperTitle    string             `json:"paper_title"`
	Venue         string             `json:"venue,omitempty"`
	Year          *int               `json:"year,omitempty"`
	Citations     *int               `json:"citations,omitempty"`
}

func (r Recipient) input() render.Input {
	return render.Input{
		AuthorName: r.Name,
		PaperTitle: r.PaperTitle,
		Venue:      r.Venue,
		Year:       r.Year,
		Citations:  r.Citations,
	}
}

// BuildRecipients walks articles in order, then authors in order, then the
// paper-level fallback addresses. Entries without an address are dropped and
// an address appearing twice is kept only at its first position.
func BuildRecipients(articles []models.Article, includeHomepage, includeFallback bool) []Recipient {
	seen := make(map[string]struct{})
	var out []Recipient

	for _, a := range articles {
		add := func(email, name string, src models.EmailSource) {
			key := contacted.NormalizeEmail(email)
			if key == "" {
				return
			}
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
			out = append(out, Recipient{
				Email:         key,
				Name:          name,
				Source:        src,
				ArticleID:     a.ID,
				PaperIdentity: a.PaperIdentity(),
				PaperTitle:    a.Title,
				Venue:         a.Venue,
				Year:          a.Year,
				Citations:     a.Citations,
			})
		}

		for _, e := range a.AuthorEmails {
			if !e.HasEmail() {
				continue
			}
			switch e.Source {
			case models.SourceHomepage:
				if !includeHomepage {
					continue
				}
			case models.SourceDocumentFallback:
				if !includeFallback {
					continue
				}
			default:
				continue
			}
			add(e.Address(), e.Name, e.Source)
		}
		if includeFallback {
			for _, f := range a.FallbackEmails {
				add(f, render.DefaultAuthorName, models.SourceDocumentFallback)
			}
		}
	}
	return out
}
