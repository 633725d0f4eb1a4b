package drought

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// Zone layer property names.
const (
	PropID          = "id"
	PropType        = "type"
	PropLevel       = "niveauGravite"
	PropDepartment  = "departement"
	PropRestriction = "arreteRestriction"
)

// FilterOptions tunes FilterZones.
type FilterOptions struct {
	// Dissolve merges features sharing the same id into one zone. The tiled
	// feed splits large zones across tiles; uploaded files do not.
	Dissolve bool
}

// FilterZones keeps surface-water zones of metropolitan departments and
// derives their department code and order file. Features without a
// decodable department are dropped.
func FilterZones(features []Feature, opts FilterOptions) ([]Zone, error) {
	kept := make([]Feature, 0, len(features))
	for _, f := range features {
		if stringProp(f.Properties, PropType) == WaterType {
			kept = append(kept, f)
		}
	}
	if opts.Dissolve {
		var err error
		kept, err = dissolve(kept)
		if err != nil {
			return nil, err
		}
	}

	zones := make([]Zone, 0, len(kept))
	for _, f := range kept {
		z, err := newZone(f)
		if err != nil {
			continue
		}
		if !IsMetropolitan(z.DeptCode) {
			continue
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// IsMetropolitan reports whether a department code belongs to mainland
// France or Corsica. Overseas codes have three characters.
func IsMetropolitan(code string) bool {
	return code != "" && len(code) < 3
}

func newZone(f Feature) (Zone, error) {
	dept, ok := embeddedObject(f.Properties[PropDepartment])
	if !ok {
		return Zone{}, ErrNoDepartment
	}
	code := strings.TrimSpace(stringValue(dept["code"]))
	if code == "" {
		return Zone{}, ErrNoDepartment
	}
	rawLevel := stringProp(f.Properties, PropLevel)
	level, err := ParseLevel(rawLevel)
	if err != nil {
		level = Level(rawLevel)
	}
	z := Zone{
		ID:         stringProp(f.Properties, PropID),
		Type:       stringProp(f.Properties, PropType),
		Level:      level,
		DeptCode:   code,
		DeptName:   stringValue(dept["nom"]),
		Properties: f.Properties,
		Geometry:   f.Geometry,
	}
	if order, ok := embeddedObject(f.Properties[PropRestriction]); ok {
		z.OrderFile = stringValue(order["fichier"])
	}
	return z, nil
}

// dissolve groups features by id, keeping the first feature's properties and
// the union of the geometries as a MultiPolygon. Order of first appearance is
// preserved. Features without an id are kept untouched.
func dissolve(features []Feature) ([]Feature, error) {
	type group struct {
		first Feature
		geoms []geom.T
	}
	var (
		order  []string
		groups = map[string]*group{}
		out    []Feature
	)
	for _, f := range features {
		id := stringProp(f.Properties, PropID)
		if id == "" {
			out = append(out, f)
			continue
		}
		g, ok := groups[id]
		if !ok {
			g = &group{first: f}
			groups[id] = g
			order = append(order, id)
		}
		if f.Geometry != nil {
			g.geoms = append(g.geoms, f.Geometry)
		}
	}
	for _, id := range order {
		g := groups[id]
		merged, err := mergePolygons(g.geoms)
		if err != nil {
			return nil, fmt.Errorf("dissolve zone %s: %w", id, err)
		}
		f := g.first
		f.Geometry = merged
		out = append(out, f)
	}
	return out, nil
}

// mergePolygons concatenates the polygons of geoms into one XY MultiPolygon.
// Tiles in other layouts are flattened; non-areal tiles are skipped.
func mergePolygons(geoms []geom.T) (geom.T, error) {
	switch len(geoms) {
	case 0:
		return nil, nil
	case 1:
		return geoms[0], nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, g := range geoms {
		switch t := g.(type) {
		case *geom.Polygon:
			if err := mp.Push(flatPolygon(t)); err != nil {
				return nil, fmt.Errorf("push polygon: %w", err)
			}
		case *geom.MultiPolygon:
			for i := 0; i < t.NumPolygons(); i++ {
				if err := mp.Push(flatPolygon(t.Polygon(i))); err != nil {
					return nil, fmt.Errorf("push polygon: %w", err)
				}
			}
		}
	}
	if mp.NumPolygons() == 0 {
		return nil, nil
	}
	return mp, nil
}

func flatPolygon(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	rings := p.Coords()
	flat := make([][]geom.Coord, len(rings))
	for i, ring := range rings {
		flat[i] = make([]geom.Coord, len(ring))
		for j, c := range ring {
			flat[i][j] = geom.Coord{c.X(), c.Y()}
		}
	}
	return geom.NewPolygon(geom.XY).MustSetCoords(flat)
}

// embeddedObject accepts either a decoded JSON object or a string holding
// one; the tiled feed serialises nested objects as strings.
func embeddedObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err != nil || m == nil {
			return nil, false
		}
		return m, true
	default:
		return nil, false
	}
}

func stringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	return stringValue(props[key])
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
