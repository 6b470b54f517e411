package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a one-page document whose font is Identity-H encoded,
// so every glyph is a two-byte id mapped back to text by a ToUnicode CMap.
func buildPDF(t *testing.T, glyphs string) []byte {
	t.Helper()
	cmap := `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
3 beginbfrange
<0001> <001A> <0061>
<001B> <001B> <0040>
<001C> <001C> <002E>
endbfrange
endcmap
end
end`
	content := "BT /F1 12 Tf 72 700 Td <" + glyphs + "> Tj ET"
	stream := func(body string) string {
		return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(body), body)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		stream(content),
		"<< /Type /Font /Subtype /Type0 /BaseFont /Paper /Encoding /Identity-H /DescendantFonts [6 0 R] /ToUnicode 7 0 R >>",
		"<< /Type /Font /Subtype /CIDFontType2 /BaseFont /Paper /CIDSystemInfo << /Registry (Adobe) /Ordering (Identity) /Supplement 0 >> >>",
		stream(cmap),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPlainText_MapsCIDGlyphsThroughToUnicode(t *testing.T) {
	t.Parallel()
	// a d a @ u n i . e d u
	doc := buildPDF(t, "000100040001001B0015000E0009001C000500040015")

	text, err := plainText(doc, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "ada@uni.edu")
	assert.Equal(t, []string{"ada@uni.edu"}, ScanText(text))
}

func TestPDFReader_LeadingText(t *testing.T) {
	t.Parallel()
	doc := buildPDF(t, "000100040001001B0015000E0009001C000500040015")

	text, err := PDFReader{Pages: "1"}.LeadingText(doc)
	require.NoError(t, err)
	assert.Contains(t, text, "ada@uni.edu")
}

func TestPlainText_Malformed(t *testing.T) {
	t.Parallel()
	_, err := plainText([]byte("%PDF-1.4\ngarbage"), 1)
	assert.Error(t, err)
}

func TestLastPage(t *testing.T) {
	t.Parallel()
	cases := map[string]int{"1": 1, "1-2": 2, "1,3-4": 4, "": 1, "odd": 1}
	for in, want := range cases {
		assert.Equal(t, want, lastPage(in), in)
	}
}

func TestPDFLinks(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<meta name="citation_pdf_url" content="/papers/deep-sets.pdf">
	</head><body>
		<a href="https://arxiv.org/pdf/1703.06114">arXiv</a>
		<a href="//cdn.uni.edu/paper.PDF">mirror</a>
		<a href="/about">about</a>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	doc.Url, _ = url.Parse("https://venue.org/abs/42")

	assert.Equal(t, []string{
		"https://venue.org/papers/deep-sets.pdf",
		"https://arxiv.org/pdf/1703.06114",
		"https://cdn.uni.edu/paper.PDF",
	}, pdfLinks(doc))
}

func TestPDFReader_RejectsNonPDF(t *testing.T) {
	t.Parallel()
	_, err := PDFReader{}.LeadingText([]byte("<html>not a pdf</html>"))
	assert.ErrorIs(t, err, errNotPDF)
}

func TestPersonalHomepage(t *testing.T) {
	t.Parallel()

	hp, ok := personalHomepage("https://ada.github.io")
	assert.True(t, ok)
	assert.Equal(t, "https://ada.github.io/", hp)

	_, ok = personalHomepage("https://ada.github.io/blog/post-1")
	assert.False(t, ok)
	_, ok = personalHomepage("https://scholar.google.com/citations?user=x")
	assert.False(t, ok)
	_, ok = personalHomepage("mailto:ada@uni.edu")
	assert.False(t, ok)
}

func TestHomepageFromProfile(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><body>
		<a href="https://twitter.com/ada">twitter</a>
		<div id="gsc_prf_ivh">Verified email at uni.edu - <a href="https://ada.github.io/">Homepage</a></div>
	</body></html>`)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "https://ada.github.io/", homepageFromProfile(doc, raw))

	raw = []byte(`<html><body><script>var home = "https://alan.github.io/";</script></body></html>`)
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "https://alan.github.io/", homepageFromProfile(doc, raw))
}
