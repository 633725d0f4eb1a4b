package drought

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseListCell(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"['alerte', 'crise']", []string{"alerte", "crise"}},
		{`["SUP","SOU"]`, []string{"SUP", "SOU"}},
		{"[]", nil},
		{"crise", []string{"crise"}},
		{"'crise'", []string{"crise"}},
		{"", nil},
		{"['a, b', 'c']", []string{"a, b", "c"}},
		{"[alerte, crise]", []string{"[alerte, crise]"}},
		{"['open", []string{"['open"}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ParseListCell(tc.in), tc.in)
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOrderExplodePairsByPosition(t *testing.T) {
	t.Parallel()

	o := Order{Department: "21", Levels: []string{"alerte", "crise", "vigilance"}, Types: []string{"SUP", "SOU"}}
	entries := o.Explode()
	require.Equal(t, []ZoneEntry{
		{Department: "21", Level: "alerte", Type: "SUP"},
		{Department: "21", Level: "crise", Type: "SOU"},
	}, entries)
}

func TestCountDepartmentsAt(t *testing.T) {
	t.Parallel()

	orders := []Order{
		{Department: "21", Start: day(2025, 6, 1), End: day(2025, 9, 30), Levels: []string{"alerte", "crise"}, Types: []string{"SUP", "SUP"}},
		{Department: "21", Start: day(2025, 7, 1), End: day(2025, 9, 30), Levels: []string{"crise"}, Types: []string{"SUP"}},
		{Department: "89", Start: day(2025, 6, 1), End: day(2025, 9, 30), Levels: []string{"alerte renforcée"}, Types: []string{"SUP"}},
		{Department: "58", Start: day(2025, 6, 1), End: day(2025, 9, 30), Levels: []string{"crise"}, Types: []string{"SOU"}},
		{Department: "45", Start: day(2025, 6, 1), End: day(2025, 9, 30), Levels: []string{"vigilance"}, Types: []string{"SUP"}},
		{Department: "10", Start: day(2025, 8, 1), End: day(2025, 8, 15), Levels: []string{"crise"}, Types: []string{"SUP"}},
	}
	at := day(2025, 8, 1)

	require.Equal(t, 2, CountDepartmentsAt(orders, at, RestrictiveLevels, nil), "start date is exclusive")
	require.Equal(t, 1, CountDepartmentsAt(orders, at, []Level{LevelCrise}, nil))
	require.Equal(t, 1, CountDepartmentsAt(orders, at, []Level{LevelAlerteRenforcee}, nil))
	require.Equal(t, 1, CountDepartmentsAt(orders, at, []Level{LevelVigilance}, nil))
	require.Equal(t, 0, CountDepartmentsAt(orders, day(2025, 9, 30), RestrictiveLevels, nil), "end date is exclusive")

	within := map[string]struct{}{"89": {}}
	require.Equal(t, 1, CountDepartmentsAt(orders, at, RestrictiveLevels, within))
	require.Equal(t, 0, CountDepartmentsAt(nil, at, RestrictiveLevels, nil))
}
