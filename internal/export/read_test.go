package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_ReadsWhatWriteCSVWrites(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "Graph Nets", a.Title)
	assert.Equal(t, "NeurIPS", a.Venue)
	require.NotNil(t, a.Year)
	assert.Equal(t, 2021, *a.Year)
	require.NotNil(t, a.Citations)
	assert.Equal(t, 12, *a.Citations)
	assert.InDelta(t, 4.0, a.CitationsPerYear, 0.001)
	require.Len(t, a.AuthorEmails, 1)
	assert.Equal(t, "Ada Lovelace", a.AuthorEmails[0].Name)
	assert.Equal(t, "ada@uni.edu", a.AuthorEmails[0].Address())
	assert.Equal(t, []string{"lab@uni.edu"}, a.FallbackEmails)
	assert.Zero(t, a.ID)

	assert.Nil(t, got[1].Year)
	assert.Empty(t, got[1].AuthorEmails)
}

func TestReadCSV_HeaderByName(t *testing.T) {
	t.Parallel()
	in := "Year,Title\n2020,First\n,\n,Second\n"
	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2, "blank titles are skipped")
	assert.Equal(t, "First", got[0].Title)
	assert.Equal(t, 2020, *got[0].Year)
	assert.Nil(t, got[1].Year)
}

func TestReadCSV_Errors(t *testing.T) {
	t.Parallel()
	_, err := ReadCSV(strings.NewReader("name\nx\n"))
	assert.ErrorIs(t, err, ErrMissingTitle)

	_, err = ReadCSV(strings.NewReader("title,year\nA,soon\n"))
	assert.ErrorContains(t, err, "line 2: year")
}
