package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

// Spatial reference identifiers understood by the reader.
const (
	SRSWGS84     = 4326
	SRSLambert93 = 2154
)

// Reference layer property names.
const (
	PropDeptCode = "insee_dep"
	PropDeptName = "nom"
)

// ErrUnsupportedSRS is returned for layers in a projection we cannot convert.
var ErrUnsupportedSRS = errors.New("unsupported spatial reference system")

var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ReadLayer loads a reference layer from a GeoPackage (.gpkg) or GeoJSON
// (.geojson, .json) file.
func ReadLayer(ctx context.Context, path string) (drought.Layer, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg":
		features, err := ReadGeoPackage(ctx, path)
		if err != nil {
			return drought.Layer{}, err
		}
		return drought.Layer{Name: name, Features: features}, nil
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return drought.Layer{}, fmt.Errorf("read %s: %w", path, err)
		}
		features, err := ParseFeatureCollection(data)
		if err != nil {
			return drought.Layer{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return drought.Layer{Name: name, Features: features}, nil
	default:
		return drought.Layer{}, fmt.Errorf("unsupported layer format %q", filepath.Ext(path))
	}
}

// Departments maps a reference layer to network departments.
func Departments(layer drought.Layer) []drought.Department {
	out := make([]drought.Department, 0, len(layer.Features))
	for _, f := range layer.Features {
		out = append(out, drought.Department{
			Code:     strings.TrimSpace(fmt.Sprint(f.Properties[PropDeptCode])),
			Name:     strings.TrimSpace(fmt.Sprint(f.Properties[PropDeptName])),
			Geometry: f.Geometry,
		})
	}
	return out
}

// ReadGeoPackage reads the first feature table of a GeoPackage and returns
// its features converted to WGS 84.
func ReadGeoPackage(ctx context.Context, path string) ([]drought.Feature, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()

	var (
		table  string
		column string
		srsID  int
	)
	row := db.QueryRowContext(ctx, `
SELECT c.table_name, g.column_name, g.srs_id
FROM gpkg_contents c
JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
WHERE c.data_type = 'features'
ORDER BY c.table_name
LIMIT 1`)
	if err := row.Scan(&table, &column, &srsID); err != nil {
		return nil, fmt.Errorf("find feature table: %w", err)
	}
	if !validIdentifier.MatchString(table) || !validIdentifier.MatchString(column) {
		return nil, fmt.Errorf("invalid feature table %q.%q", table, column)
	}
	project, err := projectionFor(srsID)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	var features []drought.Feature
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		f := drought.Feature{Properties: make(map[string]any, len(cols)-1)}
		for i, name := range cols {
			if name == column {
				blob, _ := values[i].([]byte)
				g, err := DecodeGeoPackageGeometry(blob)
				if err != nil {
					return nil, fmt.Errorf("decode geometry in %s: %w", table, err)
				}
				if project != nil {
					Reproject(g, project)
				}
				f.Geometry = g
				continue
			}
			f.Properties[name] = columnValue(values[i])
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return features, nil
}

func projectionFor(srsID int) (func(x, y float64) (float64, float64), error) {
	switch srsID {
	case SRSWGS84:
		return nil, nil
	case SRSLambert93:
		return Lambert93ToWGS84, nil
	default:
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedSRS, srsID)
	}
}

func columnValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// envelopeSizes maps the envelope indicator of the flags byte to its length.
var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// DecodeGeoPackageGeometry decodes a GeoPackage binary geometry: the "GP"
// header, an optional envelope, then standard WKB. Empty geometries and
// NULL blobs decode to nil.
func DecodeGeoPackageGeometry(blob []byte) (geom.T, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errors.New("missing GeoPackage header")
	}
	flags := blob[3]
	envSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, fmt.Errorf("invalid envelope indicator in flags %#x", flags)
	}
	if flags&0x10 != 0 {
		return nil, nil
	}
	start := 8 + envSize
	if len(blob) <= start {
		return nil, errors.New("truncated GeoPackage geometry")
	}
	g, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return nil, fmt.Errorf("decode wkb: %w", err)
	}
	return g, nil
}
