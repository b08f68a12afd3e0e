package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"generalize/internal/generalize"
	_ "generalize/internal/storage/sqlite"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func column(tbl *generalize.Table, name string) []any {
	var out []any
	tbl.Range(func(_ string, rec generalize.Record) bool {
		out = append(out, rec.Value(name))
		return true
	})
	return out
}

func sample(t *testing.T, spec Spec, limit int) *generalize.Table {
	t.Helper()
	src, err := Open(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	tbl, err := src.Sample(context.Background(), limit)
	require.NoError(t, err)
	return tbl
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Spec{Kind: "ftp", Columns: []string{"a"}})
	assert.True(t, errors.Is(err, ErrUnknownKind), "got %v", err)

	_, err = Open(context.Background(), Spec{Kind: "file", Path: "x.csv"})
	assert.ErrorContains(t, err, "no columns")

	_, err = Open(context.Background(), Spec{Kind: "file", Columns: []string{"a"}})
	assert.ErrorContains(t, err, "path or url")

	_, err = Open(context.Background(), Spec{Kind: "file", Path: "x.csv", Delimiter: ";;", Columns: []string{"a"}})
	assert.ErrorContains(t, err, "single character")

	_, err = Open(context.Background(), Spec{Kind: "sqlite", DSN: ":memory:", Columns: []string{"a"}})
	assert.ErrorContains(t, err, "table is required")
}

func TestKinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"file", "html", "mssql", "postgres", "sqlite"}, Kinds())
	assert.True(t, Known("html"))
	assert.False(t, Known("ftp"))
}

func TestFileSource_CSV(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "census.csv", "Année;Sexe;Age group\n2001;M;0 to 14\n2006;F;15 to 64\n2011;M;65+\n")
	tbl := sample(t, Spec{
		Kind:      "file",
		Path:      path,
		Delimiter: ";",
		Columns:   []string{"annee", "Sexe", "age_group"},
	}, 2)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{"2001", "2006"}, column(tbl, "annee"))
	assert.Equal(t, []any{"M", "F"}, column(tbl, "Sexe"))
	assert.Equal(t, []any{"0 to 14", "15 to 64"}, column(tbl, "age_group"))
}

func TestFileSource_MissingColumn(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "census.csv", "Year,Sex\n2001,M\n")
	src, err := Open(context.Background(), Spec{Kind: "file", URL: "file://" + path, Columns: []string{"Year", "Geo"}})
	require.NoError(t, err)
	_, err = src.Sample(context.Background(), 10)
	assert.ErrorContains(t, err, "Geo")
}

func TestFileSource_NDJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "census.ndjson", "{\"year\":2001,\"geo\":{\"name\":\"Canada\"}}\n{\"year\":2006,\"geo\":{\"name\":\"Ontario\"}}\n")
	tbl := sample(t, Spec{Kind: "file", Path: path, Columns: []string{"year", "geo.name"}}, 0)
	assert.Equal(t, []any{"Canada", "Ontario"}, column(tbl, "geo.name"))
}

const censusPage = `<html><body>
<table id="other"><tr><th>x</th></tr><tr><td>1</td></tr></table>
<table class="census">
  <thead><tr><th>Year</th><th>Sex</th><th> Age
     group</th></tr></thead>
  <tbody>
    <tr><td>2001</td><td>M</td><td>0 to 14</td></tr>
    <tr><td colspan="3">Footnote row</td></tr>
    <tr><td>2006</td><td>F</td><td>15 to 64</td></tr>
    <tr><td>2011</td><td>M</td><td>65+</td></tr>
  </tbody>
</table>
<ul>
  <li class="rec"><span class="y">Year 2001</span><a href="/m">Male</a></li>
  <li class="rec"><span class="y">Year 2006</span><a href="/f">Female</a></li>
  <li class="rec"><a href="/x">No year</a></li>
</ul>
</body></html>`

func TestHTMLSource_TableMode(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "census.html", censusPage)
	tbl := sample(t, Spec{
		Kind:     "html",
		Path:     path,
		Selector: "table.census",
		Columns:  []string{"Year", "Sex", "Age group"},
	}, 0)

	assert.Equal(t, []any{"2001", "2006", "2011"}, column(tbl, "Year"))
	assert.Equal(t, []any{"0 to 14", "15 to 64", "65+"}, column(tbl, "Age group"))
}

func TestHTMLSource_TableWithoutThead(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "plain.html", `<table><tr><td>Year</td><td>Sex</td></tr><tr><td>2001</td><td>M</td></tr></table>`)
	tbl := sample(t, Spec{Kind: "html", Path: path, Columns: []string{"Year", "Sex"}}, 0)
	assert.Equal(t, []any{"2001"}, column(tbl, "Year"))
}

func TestHTMLSource_RecordMode(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "census.html", censusPage)
	tbl := sample(t, Spec{
		Kind:     "html",
		Path:     path,
		Selector: "li.rec",
		Fields: []Field{
			{Column: "year", Selector: ".y", Match: `(\d{4})`},
			{Column: "sex", Selector: "a"},
			{Column: "link", Selector: "a", Extract: "attr", Attr: "href"},
		},
		Columns: []string{"year", "sex", "link"},
	}, 0)

	assert.Equal(t, []any{"2001", "2006", nil}, column(tbl, "year"))
	assert.Equal(t, []any{"Male", "Female", "No year"}, column(tbl, "sex"))
	assert.Equal(t, []any{"/m", "/f", "/x"}, column(tbl, "link"))
}

func TestHTMLSource_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"fields without selector", Spec{Fields: []Field{{Column: "a", Selector: "b"}}}, "record selector"},
		{"bad regex", Spec{Selector: "li", Fields: []Field{{Column: "a", Selector: "b", Match: "("}}}, "invalid regex"},
		{"attr without name", Spec{Selector: "li", Fields: []Field{{Column: "a", Selector: "b", Extract: "attr"}}}, "names none"},
		{"unknown extract", Spec{Selector: "li", Fields: []Field{{Column: "a", Selector: "b", Extract: "html"}}}, "unknown extract"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.spec.Kind = "html"
			tt.spec.Path = "page.html"
			tt.spec.Columns = []string{"a"}
			_, err := Open(context.Background(), tt.spec)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestHTMLSource_HTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/census" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, censusPage)
	}))
	t.Cleanup(srv.Close)

	tbl := sample(t, Spec{Kind: "html", URL: srv.URL + "/census", Selector: "table.census", Columns: []string{"Sex"}}, 1)
	assert.Equal(t, []any{"M"}, column(tbl, "Sex"))

	src, err := Open(context.Background(), Spec{Kind: "html", URL: srv.URL + "/missing", Columns: []string{"Sex"}})
	require.NoError(t, err)
	_, err = src.Sample(context.Background(), 1)
	assert.ErrorContains(t, err, "http status 404")
}

func TestSQLSource_SQLite(t *testing.T) {
	t.Parallel()

	dsn := filepath.Join(t.TempDir(), "census.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE census (year INTEGER, sex TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO census VALUES (2001, 'M'), (2006, 'F'), (2011, 'M')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	tbl := sample(t, Spec{Kind: "sqlite", DSN: dsn, Table: "census", Columns: []string{"year", "sex"}}, 2)
	assert.Equal(t, []any{int64(2001), int64(2006)}, column(tbl, "year"))
	assert.Equal(t, []any{"M", "F"}, column(tbl, "sex"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tbl := generalize.FromMaps([]map[string]any{{"a": 1}, {"a": 2}, {"a": 3}})
	assert.Equal(t, 2, truncate(tbl, 2).Len())
	assert.Same(t, tbl, truncate(tbl, 0))
	assert.Same(t, tbl, truncate(tbl, 5))
}
