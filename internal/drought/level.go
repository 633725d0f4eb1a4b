package drought

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Level is a restriction severity, stored as its data.gouv.fr code.
type Level string

// Severity levels in increasing order.
const (
	LevelVigilance       Level = "vigilance"
	LevelAlerte          Level = "alerte"
	LevelAlerteRenforcee Level = "alerte_renforcee"
	LevelCrise           Level = "crise"
)

// Levels lists every level from the least to the most severe.
var Levels = []Level{LevelVigilance, LevelAlerte, LevelAlerteRenforcee, LevelCrise}

// RestrictiveLevels are the levels above vigilance.
var RestrictiveLevels = []Level{LevelAlerte, LevelAlerteRenforcee, LevelCrise}

var levelColors = map[Level]string{
	LevelVigilance:       "#ffeda0",
	LevelAlerte:          "#feb24c",
	LevelAlerteRenforcee: "#fc4e2a",
	LevelCrise:           "#b10026",
}

var levelLabels = map[Level]string{
	LevelVigilance:       "vigilance",
	LevelAlerte:          "alerte",
	LevelAlerteRenforcee: "alerte renforcée",
	LevelCrise:           "crise",
}

// Color returns the fill colour used on the map, or a neutral grey for
// unknown levels.
func (l Level) Color() string {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return "#808080"
}

// Label returns the human readable French label.
func (l Level) Label() string {
	if s, ok := levelLabels[l]; ok {
		return s
	}
	return string(l)
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	_, ok := levelColors[l]
	return ok
}

// ParseLevel maps a code or a label to a Level. Matching ignores case,
// accents and the space/underscore difference, so "Alerte renforcée" and
// "alerte_renforcee" are the same level.
func ParseLevel(raw string) (Level, error) {
	key := foldLevel(raw)
	for _, l := range Levels {
		if foldLevel(string(l)) == key {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown severity level %q", raw)
}

// foldLevel builds its transformer per call: transform chains carry state.
func foldLevel(s string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripAccents, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(strings.TrimSpace(out))
	out = strings.Join(strings.FieldsFunc(out, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), "_")
	return out
}

func levelSet(levels []Level) map[Level]struct{} {
	set := make(map[Level]struct{}, len(levels))
	for _, l := range levels {
		set[l] = struct{}{}
	}
	return set
}
