package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchAuthors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		unresolved []string
		emails     []string
		matched    []Assignment
		residue    []string
	}{
		{
			name:       "surname match",
			unresolved: []string{"Ada Lovelace", "Alan Turing"},
			emails:     []string{"turing@uni.edu", "lovelace@uni.edu"},
			matched: []Assignment{
				{Author: "Alan Turing", Email: "turing@uni.edu"},
				{Author: "Ada Lovelace", Email: "lovelace@uni.edu"},
			},
		},
		{
			name:       "initial plus surname beats given name",
			unresolved: []string{"Grace Hopper", "Grace Murray"},
			emails:     []string{"ghopper@navy.mil"},
			matched:    []Assignment{{Author: "Grace Hopper", Email: "ghopper@navy.mil"}},
		},
		{
			name:       "tie goes to residue",
			unresolved: []string{"Wei Zhang", "Wei Wang"},
			emails:     []string{"wei@uni.edu"},
			residue:    []string{"wei@uni.edu"},
		},
		{
			name:       "unmatched with several authors goes to residue",
			unresolved: []string{"Ada Lovelace", "Alan Turing"},
			emails:     []string{"lab-office@uni.edu"},
			residue:    []string{"lab-office@uni.edu"},
		},
		{
			name:       "sole unresolved author takes first residue",
			unresolved: []string{"Ada Lovelace"},
			emails:     []string{"corresponding@uni.edu", "other@uni.edu"},
			matched:    []Assignment{{Author: "Ada Lovelace", Email: "corresponding@uni.edu"}},
			residue:    []string{"other@uni.edu"},
		},
		{
			name:       "author matched once only",
			unresolved: []string{"Ada Lovelace"},
			emails:     []string{"lovelace@uni.edu", "ada.lovelace@gmail.com"},
			matched:    []Assignment{{Author: "Ada Lovelace", Email: "lovelace@uni.edu"}},
			residue:    []string{"ada.lovelace@gmail.com"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			matched, residue := MatchAuthors(tt.unresolved, tt.emails)
			assert.Equal(t, tt.matched, matched)
			assert.Equal(t, tt.residue, residue)
		})
	}
}

func TestNameScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, nameScore("Ada Lovelace", "alovelace@uni.edu"))
	assert.Equal(t, 3, nameScore("Ada Lovelace", "ada.lovelace@uni.edu"))
	assert.Equal(t, 2, nameScore("Ada Lovelace", "ada@uni.edu"))
	assert.Equal(t, 1, nameScore("Ada B. Lovelace", "abl@uni.edu"))
	assert.Equal(t, 0, nameScore("Ada Lovelace", "someone@uni.edu"))
	assert.Equal(t, 0, nameScore("", "ada@uni.edu"))
}
