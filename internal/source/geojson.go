package source

import (
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

type rawFeature struct {
	ID         any             `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection. Feature ids are
// copied into the "id" property when the property is absent. Features with a
// null geometry are kept with a nil Geometry.
func ParseFeatureCollection(data []byte) ([]drought.Feature, error) {
	var coll rawCollection
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if coll.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", coll.Type)
	}
	out := make([]drought.Feature, 0, len(coll.Features))
	for i, rf := range coll.Features {
		props := rf.Properties
		if props == nil {
			props = map[string]any{}
		}
		if _, ok := props[drought.PropID]; !ok && rf.ID != nil {
			props[drought.PropID] = rf.ID
		}
		var g geom.T
		if len(rf.Geometry) > 0 && string(rf.Geometry) != "null" {
			if err := geojson.Unmarshal(rf.Geometry, &g); err != nil {
				return nil, fmt.Errorf("decode geometry of feature %d: %w", i, err)
			}
		}
		out = append(out, drought.Feature{Geometry: g, Properties: props})
	}
	return out, nil
}

// EncodeFeatureCollection renders features as a GeoJSON FeatureCollection.
func EncodeFeatureCollection(features []drought.Feature) ([]byte, error) {
	coll := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	for _, f := range features {
		coll.Features = append(coll.Features, &geojson.Feature{
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	data, err := json.Marshal(&coll)
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return data, nil
}

// ZoneFeatures converts zones back to features, adding the derived
// properties used by the map (department code, colour, order link).
func ZoneFeatures(zones []drought.Zone) []drought.Feature {
	out := make([]drought.Feature, 0, len(zones))
	for _, z := range zones {
		props := make(map[string]any, len(z.Properties)+4)
		for k, v := range z.Properties {
			props[k] = v
		}
		props[drought.PropLevel] = string(z.Level)
		props["insee_dept"] = z.DeptCode
		props["nom_dept"] = z.DeptName
		props["couleur"] = z.Level.Color()
		props["chemin_fichier"] = z.OrderFile
		out = append(out, drought.Feature{Geometry: z.Geometry, Properties: props})
	}
	return out
}

// DepartmentFeatures converts network departments to features.
func DepartmentFeatures(depts []drought.Department) []drought.Feature {
	out := make([]drought.Feature, 0, len(depts))
	for _, d := range depts {
		out = append(out, drought.Feature{
			Geometry:   d.Geometry,
			Properties: map[string]any{PropDeptCode: d.Code, PropDeptName: d.Name},
		})
	}
	return out
}
