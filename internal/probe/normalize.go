package probe

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes text and drops combining marks ("Année" -> "Annee").
func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeFieldName converts an arbitrary header into a lowercase ASCII
// identifier: accents are stripped, separators become single underscores,
// everything else outside [a-z0-9_] is dropped.
func NormalizeFieldName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Casers carry state; one per call.
	s = strings.ToLower(cases.Fold().String(stripMarks(s)))

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';' {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}

		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = (r == '_')
			continue
		}
	}

	return truncateFieldName(strings.Trim(b.String(), "_"))
}

// truncateFieldName enforces backend identifier length limits while
// preserving UTF-8 validity.
func truncateFieldName(s string) string {
	const maxLen = 63
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.ValidString(s[:cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:maxLen]
	}
	return s[:cut]
}

// MatchColumns maps each wanted column name to a source header.
//
// An exact header match wins; otherwise headers are compared by their
// normalized form, so "Année" matches "annee" and "Sex " matches "sex".
// Ambiguous normalized matches are an error rather than a guess.
func MatchColumns(headers, wanted []string) (map[string]string, error) {
	exact := make(map[string]struct{}, len(headers))
	byNorm := make(map[string][]string, len(headers))
	for _, h := range headers {
		exact[h] = struct{}{}
		k := NormalizeFieldName(h)
		byNorm[k] = append(byNorm[k], h)
	}

	out := make(map[string]string, len(wanted))
	var missing []string
	for _, w := range wanted {
		if _, ok := exact[w]; ok {
			out[w] = w
			continue
		}
		cands := byNorm[NormalizeFieldName(w)]
		switch len(cands) {
		case 0:
			missing = append(missing, w)
		case 1:
			out[w] = cands[0]
		default:
			return nil, fmt.Errorf("column %q is ambiguous: matches %s", w, strings.Join(cands, ", "))
		}
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("columns not found in source: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
