package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"scholardock/pkg/models"
)

// paper is one entry of the mirror file, in the shape the HTTP search
// provider decodes.
type paper struct {
	Title            string              `json:"title"`
	Authors          string              `json:"authors,omitempty"`
	AuthorLinks      []models.AuthorLink `json:"author_links,omitempty"`
	Venue            string              `json:"venue,omitempty"`
	Publisher        string              `json:"publisher,omitempty"`
	Year             *int                `json:"year,omitempty"`
	Citations        *int                `json:"citations,omitempty"`
	CitationsPerYear float64             `json:"citations_per_year,omitempty"`
	Description      string              `json:"description,omitempty"`
	URL              string              `json:"url,omitempty"`
	PDFURL           string              `json:"pdf_url,omitempty"`
}

// mirror-server answers GET /search from a local JSON file so searches can
// run offline against a fixed corpus.
func main() {
	var (
		addr     = flag.String("addr", ":9000", "listen address")
		dataPath = flag.String("data", "data/mirror.json", "JSON array of papers")
	)
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)
	r := newRouter(func() ([]paper, error) { return loadPapers(*dataPath) })

	fmt.Printf("mirror-server listening on %s, serving %s\n", *addr, *dataPath)
	if err := http.ListenAndServe(*addr, r); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRouter reloads the corpus on every request so the file can be edited
// while the server runs.
func newRouter(load func() ([]paper, error)) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/search", func(c *gin.Context) {
		papers, err := load()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		num, _ := strconv.Atoi(c.DefaultQuery("num", "20"))
		start, _ := strconv.Atoi(c.Query("start_year"))
		end, _ := strconv.Atoi(c.Query("end_year"))
		c.JSON(http.StatusOK, gin.H{"results": filterPapers(papers, c.Query("q"), start, end, num)})
	})
	return r
}

func loadPapers(path string) ([]paper, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var papers []paper
	if err := json.Unmarshal(b, &papers); err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", path, err)
	}
	return papers, nil
}

// filterPapers keeps papers matching any keyword term in title or
// description, within the year range. Zero bounds are open.
func filterPapers(papers []paper, q string, start, end, num int) []paper {
	terms := strings.Fields(strings.ToLower(q))
	out := make([]paper, 0, len(papers))
	for _, p := range papers {
		if p.Year != nil && ((start > 0 && *p.Year < start) || (end > 0 && *p.Year > end)) {
			continue
		}
		if len(terms) > 0 && !matchesAny(strings.ToLower(p.Title+" "+p.Description), terms) {
			continue
		}
		out = append(out, p)
		if num > 0 && len(out) == num {
			break
		}
	}
	return out
}

func matchesAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
