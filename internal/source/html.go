package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"generalize/internal/generalize"
)

func init() {
	Register("html", openHTML)
}

type htmlSource struct {
	spec   Spec
	loader *Loader
	fields []compiledField
}

type compiledField struct {
	Field
	re *regexp.Regexp
}

func openHTML(_ context.Context, spec Spec) (Source, error) {
	if strings.TrimSpace(spec.Location()) == "" {
		return nil, fmt.Errorf("source html: path or url is required")
	}
	s := &htmlSource{spec: spec, loader: NewLoader(nil, 0)}
	if len(spec.Fields) > 0 && strings.TrimSpace(spec.Selector) == "" {
		return nil, fmt.Errorf("source html: fields need a record selector")
	}
	for _, f := range spec.Fields {
		re, err := compileOptionalRegex(f.Match, f.Column)
		if err != nil {
			return nil, fmt.Errorf("source html: %w", err)
		}
		switch f.Extract {
		case "", "text":
		case "attr":
			if f.Attr == "" {
				return nil, fmt.Errorf("source html: field %q extracts an attribute but names none", f.Column)
			}
		default:
			return nil, fmt.Errorf("source html: field %q: unknown extract %q", f.Column, f.Extract)
		}
		s.fields = append(s.fields, compiledField{Field: f, re: re})
	}
	return s, nil
}

// Sample loads the page and extracts rows in table mode, or in record mode
// when fields are configured.
func (s *htmlSource) Sample(ctx context.Context, limit int) (*generalize.Table, error) {
	page, err := s.loader.Load(ctx, s.spec.Location())
	if err != nil {
		return nil, fmt.Errorf("source html %s: %w", s.spec.Location(), err)
	}

	var (
		headers []string
		rows    *generalize.Table
	)
	if len(s.fields) > 0 {
		headers, rows, err = extractRecords(page, s.spec.Selector, s.fields, limit)
	} else {
		headers, rows, err = extractTable(page, s.spec.Selector, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("source html %s: %w", s.spec.Location(), err)
	}

	out, err := rekey(headers, rows, s.spec.Columns)
	if err != nil {
		return nil, fmt.Errorf("source html %s: %w", s.spec.Location(), err)
	}
	return out, nil
}

func (s *htmlSource) Close() error { return nil }

// extractTable reads the first element matched by selector (default "table").
// Headers come from the thead row when present, else from the first row.
// Body rows whose cell count differs from the header count are skipped.
func extractTable(page, selector string, limit int) ([]string, *generalize.Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	if strings.TrimSpace(selector) == "" {
		selector = "table"
	}
	tbl := doc.Find(selector).First()
	if tbl.Length() == 0 {
		return nil, nil, fmt.Errorf("no element matches %q", selector)
	}

	cells := func(tr *goquery.Selection) []string {
		var out []string
		tr.Children().Filter("th, td").Each(func(_ int, c *goquery.Selection) {
			out = append(out, strings.Join(strings.Fields(c.Text()), " "))
		})
		return out
	}

	var headers []string
	body := tbl.Find("tr")
	if head := tbl.Find("thead tr").First(); head.Length() > 0 {
		headers = cells(head)
		body = tbl.Find("tr").NotSelection(tbl.Find("thead tr"))
	} else if body.Length() > 0 {
		headers = cells(body.First())
		body = body.Slice(1, body.Length())
	}
	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("table %q has no header row", selector)
	}

	rows := generalize.NewTable(0)
	body.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		vals := cells(tr)
		if len(vals) != len(headers) {
			return true
		}
		rec := make(generalize.MapRecord, len(headers))
		for i, h := range headers {
			if _, dup := rec[h]; dup {
				continue
			}
			rec[h] = vals[i]
		}
		rows.Append("", rec)
		return limit <= 0 || rows.Len() < limit
	})
	return headers, rows, nil
}

// extractRecords treats every element matched by recordSelector as one row
// and evaluates each field's selector relative to it. Fields whose selector
// matches nothing, or whose regex does not match, are missing from the row.
func extractRecords(page, recordSelector string, fields []compiledField, limit int) ([]string, *generalize.Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	headers := make([]string, 0, len(fields))
	for _, f := range fields {
		headers = append(headers, f.Column)
	}

	rows := generalize.NewTable(0)
	doc.Find(recordSelector).EachWithBreak(func(_ int, rec *goquery.Selection) bool {
		m := make(generalize.MapRecord, len(fields))
		for _, f := range fields {
			sel := rec.Find(f.Selector).First()
			if sel.Length() == 0 {
				continue
			}
			var v string
			switch f.Extract {
			case "attr":
				v, _ = sel.Attr(f.Attr)
				v = strings.TrimSpace(v)
			default:
				v = strings.TrimSpace(sel.Text())
			}
			if v = applyRegexFilter(v, f.re); v != "" {
				m[f.Column] = v
			}
		}
		rows.Append("", m)
		return limit <= 0 || rows.Len() < limit
	})
	return headers, rows, nil
}

// compileOptionalRegex compiles pattern, or returns nil for an empty one.
// Errors name the column to make configuration mistakes easy to find.
func compileOptionalRegex(pattern, column string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex for column %q: %w", column, err)
	}
	return re, nil
}

// applyRegexFilter returns value unchanged when re is nil, "" when re does
// not match, group 1 when re has groups, else the full match.
func applyRegexFilter(value string, re *regexp.Regexp) string {
	if value == "" || re == nil {
		return value
	}
	sm := re.FindStringSubmatch(value)
	if len(sm) == 0 {
		return ""
	}
	if len(sm) > 1 {
		return sm[1]
	}
	return sm[0]
}
