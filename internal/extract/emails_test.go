package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain", "Reach me at Ada.Lovelace@cs.uni.edu for details.", []string{"ada.lovelace@cs.uni.edu"}},
		{"upper AT DOT", "ada AT cs DOT uni DOT edu", []string{"ada@cs.uni.edu"}},
		{"bracket at", "ada [at] cs.uni.edu", []string{"ada@cs.uni.edu"}},
		{"paren at dot", "ada(at)cs(dot)uni(dot)edu", []string{"ada@cs.uni.edu"}},
		{"word at dot", "email: alan at maths dot uni dot ac dot uk", []string{"alan@maths.uni.ac.uk"}},
		{"merged", "{ada, alan}@uni.edu", []string{"ada@uni.edu", "alan@uni.edu"}},
		{"spam domain dropped", "someone@example.com", nil},
		{"system prefix dropped", "info@uni.edu noreply@uni.edu", nil},
		{"placeholder dropped", "demo.user@uni.edu", nil},
		{"dedup", "ada@uni.edu, ADA@uni.edu", []string{"ada@uni.edu"}},
		{"prose at is ignored", "we met at the conference last year", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ScanText(tt.text))
		})
	}
}

func TestValidAndSpam(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidEmail("ada@uni.edu"))
	assert.False(t, ValidEmail("ada@uni"))
	assert.False(t, ValidEmail("ada..l@uni.edu"))
	assert.False(t, ValidEmail(""))

	assert.True(t, SpamEmail("support@uni.edu"))
	assert.True(t, SpamEmail("ada@mail.tempmail.com"))
	assert.True(t, SpamEmail("no-at-sign"))
	assert.False(t, SpamEmail("ada@uni.edu"))
}

func TestScanHTML_MailtoFirst(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<p>Office hours on Monday.</p>
		<span>Ada</span><span>ada2@uni.edu</span>
		<a href="mailto:Ada@Uni.edu?subject=Hi">contact</a>
		<script>var x = "bot@uni.edu";</script>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, []string{"ada@uni.edu", "ada2@uni.edu"}, ScanHTML(doc))
}
