package drought

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func square(x, y float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y},
	}})
}

func zoneFeature(id any, typ, level, dept string, g geom.T) Feature {
	return Feature{
		Geometry: g,
		Properties: map[string]any{
			PropID:          id,
			PropType:        typ,
			PropLevel:       level,
			PropDepartment:  dept,
			PropRestriction: `{"fichier":"https://example.org/arrete.pdf"}`,
		},
	}
}

func TestFilterZones_KeepsSurfaceWaterInMetropole(t *testing.T) {
	t.Parallel()

	features := []Feature{
		zoneFeature("1", "SUP", "crise", `{"code":"21","nom":"Côte-d'Or"}`, square(0, 0)),
		zoneFeature("2", "SOU", "crise", `{"code":"21","nom":"Côte-d'Or"}`, square(1, 1)),
		zoneFeature("3", "SUP", "alerte", `{"code":"971","nom":"Guadeloupe"}`, square(2, 2)),
		zoneFeature("4", "SUP", "alerte", `not json`, square(3, 3)),
		zoneFeature("5", "SUP", "alerte_renforcee", `{"code":"2A","nom":"Corse-du-Sud"}`, square(4, 4)),
	}

	zones, err := FilterZones(features, FilterOptions{})
	require.NoError(t, err)
	require.Len(t, zones, 2)
	require.Equal(t, "21", zones[0].DeptCode)
	require.Equal(t, "Côte-d'Or", zones[0].DeptName)
	require.Equal(t, LevelCrise, zones[0].Level)
	require.Equal(t, "https://example.org/arrete.pdf", zones[0].OrderFile)
	require.Equal(t, "2A", zones[1].DeptCode)
	require.Equal(t, LevelAlerteRenforcee, zones[1].Level)
}

func TestFilterZones_DissolveMergesTiles(t *testing.T) {
	t.Parallel()

	dept := map[string]any{"code": "89", "nom": "Yonne"}
	features := []Feature{
		{Geometry: square(0, 0), Properties: map[string]any{PropID: float64(42), PropType: "SUP", PropLevel: "alerte", PropDepartment: dept}},
		{Geometry: square(1, 0), Properties: map[string]any{PropID: float64(7), PropType: "SUP", PropLevel: "crise", PropDepartment: dept}},
		{Geometry: square(2, 0), Properties: map[string]any{PropID: float64(42), PropType: "SUP", PropLevel: "vigilance", PropDepartment: dept}},
	}

	zones, err := FilterZones(features, FilterOptions{Dissolve: true})
	require.NoError(t, err)
	require.Len(t, zones, 2)

	require.Equal(t, "42", zones[0].ID)
	require.Equal(t, LevelAlerte, zones[0].Level, "first feature properties win")
	mp, ok := zones[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 2, mp.NumPolygons())

	require.Equal(t, "7", zones[1].ID)
	_, ok = zones[1].Geometry.(*geom.Polygon)
	require.True(t, ok)
}

func TestFilterZones_DissolveMixedLayouts(t *testing.T) {
	t.Parallel()

	dept := map[string]any{"code": "51", "nom": "Marne"}
	xyz := geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{{
		{1, 0, 90}, {2, 0, 95}, {2, 1, 90}, {1, 1, 85}, {1, 0, 90},
	}})
	features := []Feature{
		{Geometry: square(0, 0), Properties: map[string]any{PropID: "9", PropType: "SUP", PropLevel: "crise", PropDepartment: dept}},
		{Geometry: xyz, Properties: map[string]any{PropID: "9", PropType: "SUP", PropLevel: "crise", PropDepartment: dept}},
		{Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{5, 5}), Properties: map[string]any{PropID: "9", PropType: "SUP", PropLevel: "crise", PropDepartment: dept}},
	}

	zones, err := FilterZones(features, FilterOptions{Dissolve: true})
	require.NoError(t, err)
	require.Len(t, zones, 1)
	mp, ok := zones[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, geom.XY, mp.Layout())
	require.Equal(t, 2, mp.NumPolygons())
	require.Equal(t, []float64{2, 0}, []float64(mp.Polygon(1).LinearRing(0).Coord(1)))
}

func TestFilterZones_WithoutDissolveKeepsDuplicates(t *testing.T) {
	t.Parallel()

	features := []Feature{
		zoneFeature("1", "SUP", "alerte", `{"code":"21"}`, square(0, 0)),
		zoneFeature("1", "SUP", "alerte", `{"code":"21"}`, square(1, 0)),
	}
	zones, err := FilterZones(features, FilterOptions{})
	require.NoError(t, err)
	require.Len(t, zones, 2)
}

func TestFilterZones_UnknownLevelKeptVerbatim(t *testing.T) {
	t.Parallel()

	zones, err := FilterZones([]Feature{
		zoneFeature("1", "SUP", "inconnu", `{"code":"21"}`, square(0, 0)),
	}, FilterOptions{})
	require.NoError(t, err)
	require.Len(t, zones, 1)
	require.Equal(t, Level("inconnu"), zones[0].Level)
	require.False(t, zones[0].Level.Valid())
	require.Equal(t, "#808080", zones[0].Level.Color())
}

func TestIsMetropolitan(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"01":  true,
		"2B":  true,
		"75":  true,
		"974": false,
		"":    false,
	}
	for code, want := range cases {
		require.Equal(t, want, IsMetropolitan(code), code)
	}
}
