package render

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New("", "Ada Researcher", "ada@lab.org")
	require.NoError(t, err)
	return r
}

func TestRender_Deterministic(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t)
	in := Input{AuthorName: "Grace Hopper", PaperTitle: "Compilers", Venue: "CACM", Year: intp(1952), Citations: intp(40)}

	a, err := r.Render(in)
	require.NoError(t, err)
	b, err := r.Render(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Contains(t, a.HTML, "Dear Grace Hopper,")
	assert.Contains(t, a.HTML, "<em>Compilers</em> (1952), published in CACM")
	assert.Contains(t, a.HTML, "cited 40 times")
	assert.Contains(t, a.HTML, "mailto:ada@lab.org")
	assert.Equal(t, "Question about your paper “Compilers”", a.Subject)
}

func TestRender_OmitsMissingFields(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t)

	out, err := r.Render(Input{AuthorName: "", PaperTitle: "Sparse Graphs"})
	require.NoError(t, err)
	assert.Contains(t, out.HTML, "Dear "+DefaultAuthorName+",")
	assert.Contains(t, out.HTML, "<em>Sparse Graphs</em>, and wanted")
	assert.NotContains(t, out.HTML, "published in")
	assert.NotContains(t, out.HTML, "cited")
	assert.NotContains(t, out.HTML, "()")

	out, err = r.Render(Input{AuthorName: "X", PaperTitle: "T", Citations: intp(1), Year: intp(0)})
	require.NoError(t, err)
	assert.Contains(t, out.HTML, "cited 1 time.")
	assert.NotContains(t, out.HTML, "(0)")
}

func TestRender_EscapesHTML(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t)
	out, err := r.Render(Input{AuthorName: "<b>x</b>", PaperTitle: "A & B"})
	require.NoError(t, err)
	assert.NotContains(t, out.HTML, "<b>x</b>")
	assert.Contains(t, out.HTML, "A &amp; B")
}

func TestNew_TemplateOverride(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "custom.html")
	require.NoError(t, os.WriteFile(path, []byte("Hi {{.AuthorName}} re {{.PaperTitle}}"), 0o600))

	r, err := New(path, "", "")
	require.NoError(t, err)
	out, err := r.Render(Input{AuthorName: "Lin", PaperTitle: "Q"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Lin re Q", out.HTML)

	_, err = New(filepath.Join(t.TempDir(), "missing.html"), "", "")
	assert.Error(t, err)
}

func TestDefaultSubject(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Question about your research", DefaultSubject("  "))
	assert.Equal(t, "Question about your paper “Deep Nets”", DefaultSubject("Deep \n Nets"))
	assert.Equal(t, `Question about your paper “A "B" study”`, DefaultSubject(`A "B" study`))
}

func TestHandler_Preview(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(newTestRenderer(t)).RegisterRoutes(r.Group("/api"))

	body := `{"author_name":"Kim","paper_title":"Graphs","paper_year":2020,"subject":"Hello"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/email/preview", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var out Output
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Hello", out.Subject)
	assert.Contains(t, out.HTML, "(2020)")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/email/preview", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
