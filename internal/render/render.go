// Package render builds the HTML map page, the indicators page and the
// plain-text indicator table.
package render

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.New("pages").Funcs(template.FuncMap{
	"frdate": FrenchDate,
}).ParseFS(templatesFS, "templates/*.html"))

// Map defaults: the view is centred on mainland France.
const (
	CenterLat = 46.463
	CenterLon = 2.661

	DepartmentsColor = "#c0c0c0"
	ItineraryColor   = "#0000ff"
	LegendTitle      = "Niveau de gravité"
)

// Layer names shown in the layer control.
const (
	LayerDepartments = "Départements réseau VNF"
	LayerZones       = "Zones d'arrêtés sécheresse"
	LayerItinerary   = "Itinéraire COP"
)

// LegendEntry is one line of the categorical legend.
type LegendEntry struct {
	Label string
	Color string
}

// Legend lists the four levels from the least to the most severe.
func Legend() []LegendEntry {
	out := make([]LegendEntry, 0, len(drought.Levels))
	for _, l := range drought.Levels {
		out = append(out, LegendEntry{Label: l.Label(), Color: l.Color()})
	}
	return out
}

// FrenchDate formats t as dd/mm/yyyy.
func FrenchDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// Title is the map heading. Uploaded files carry no date.
func Title(date time.Time, dated bool) string {
	if !dated {
		return "Zones d'arrêtés sécheresse"
	}
	return "Zones d'arrêtés sécheresse en date du " + FrenchDate(date)
}

// MapView is everything the map page needs. The three layers are GeoJSON
// FeatureCollections in WGS 84.
type MapView struct {
	Date        time.Time
	Dated       bool
	UploadName  string
	SourceURL   string
	Notice      string
	Zones       []byte
	Departments []byte
	Itinerary   []byte
	Bounds      *geom.Bounds
	ZoneCount   int
	// UploadForm shows the file form; it posts without credentials, so it
	// is left out when uploads need an API key and in static exports.
	UploadForm bool
}

type mapData struct {
	Title          string
	MapView        MapView
	Legend         []LegendEntry
	LegendTitle    string
	Center         [2]float64
	FitBounds      template.JS
	ZonesJS        template.JS
	DepartmentsJS  template.JS
	ItineraryJS    template.JS
	LayerNamesJS   template.JS
	DeptColor      string
	ItineraryColor string
}

// MapPage renders the Leaflet map page.
func MapPage(w io.Writer, v MapView) error {
	names, err := json.Marshal(map[string]string{
		"departments": LayerDepartments,
		"zones":       LayerZones,
		"itinerary":   LayerItinerary,
	})
	if err != nil {
		return fmt.Errorf("encode layer names: %w", err)
	}
	data := mapData{
		Title:          Title(v.Date, v.Dated),
		MapView:        v,
		Legend:         Legend(),
		LegendTitle:    LegendTitle,
		Center:         [2]float64{CenterLat, CenterLon},
		FitBounds:      fitBounds(v.Bounds),
		ZonesJS:        layerJS(v.Zones),
		DepartmentsJS:  layerJS(v.Departments),
		ItineraryJS:    layerJS(v.Itinerary),
		LayerNamesJS:   template.JS(names),
		DeptColor:      DepartmentsColor,
		ItineraryColor: ItineraryColor,
	}
	if err := pages.ExecuteTemplate(w, "map.html", data); err != nil {
		return fmt.Errorf("render map page: %w", err)
	}
	return nil
}

// layerJS trusts data: it is produced by encoding/json, which escapes '<',
// '>' and '&' inside strings.
func layerJS(data []byte) template.JS {
	if len(data) == 0 {
		return template.JS(`{"type":"FeatureCollection","features":[]}`)
	}
	return template.JS(data)
}

// fitBounds returns a Leaflet [[south, west], [north, east]] literal, or
// "null" when there is nothing to fit.
func fitBounds(b *geom.Bounds) template.JS {
	if b == nil || b.IsEmpty() {
		return "null"
	}
	return template.JS(fmt.Sprintf("[[%f,%f],[%f,%f]]", b.Min(1), b.Min(0), b.Max(1), b.Max(0)))
}
