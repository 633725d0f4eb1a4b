package drought

import (
	"strings"
	"time"
)

// ParseListCell decodes an archive list cell. Cells hold a Python-style list
// literal such as "['alerte', 'crise']"; anything that is not a well-formed
// list is returned as a single-element list. Empty cells yield nil.
func ParseListCell(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		if v, ok := unquote(s); ok {
			return []string{v}
		}
		return []string{raw}
	}
	items, ok := splitListLiteral(s[1 : len(s)-1])
	if !ok {
		return []string{raw}
	}
	return items
}

// splitListLiteral splits the inside of a list literal on top-level commas.
// Every element must be a quoted string.
func splitListLiteral(body string) ([]string, bool) {
	var (
		items []string
		cur   strings.Builder
		quote rune
	)
	flush := func() bool {
		tok := strings.TrimSpace(cur.String())
		cur.Reset()
		if tok == "" {
			return true
		}
		v, ok := unquote(tok)
		if !ok {
			return false
		}
		items = append(items, v)
		return true
	}
	for _, r := range body {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			if !flush() {
				return nil, false
			}
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 || !flush() {
		return nil, false
	}
	return items, true
}

func unquote(tok string) (string, bool) {
	if len(tok) < 2 {
		return "", false
	}
	q := tok[0]
	if (q != '\'' && q != '"') || tok[len(tok)-1] != q {
		return "", false
	}
	return tok[1 : len(tok)-1], true
}

// CountDepartmentsAt counts the distinct departments holding, at date, an
// active order with a surface-water zone at one of levels. When within is
// non-nil only departments in that set are counted.
func CountDepartmentsAt(orders []Order, date time.Time, levels []Level, within map[string]struct{}) int {
	wanted := levelSet(levels)
	seen := map[string]struct{}{}
	for _, o := range orders {
		if !o.ActiveAt(date) {
			continue
		}
		for _, e := range o.Explode() {
			if strings.TrimSpace(e.Type) != WaterType {
				continue
			}
			l, err := ParseLevel(e.Level)
			if err != nil {
				continue
			}
			if _, ok := wanted[l]; !ok {
				continue
			}
			dept := strings.TrimSpace(e.Department)
			if within != nil {
				if _, ok := within[dept]; !ok {
					continue
				}
			}
			seen[dept] = struct{}{}
		}
	}
	return len(seen)
}
