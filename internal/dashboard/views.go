package dashboard

import (
	"bytes"
	"context"
	"fmt"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/headless"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/render"
)

// ArchiveNotice is shown above the map when the indicators are unavailable.
const ArchiveNotice = "Echec du téléchargement des données des arrêtés"

// MapView assembles the map page inputs for d.
func (s *Service) MapView(d *Dashboard) (render.MapView, error) {
	refs, err := s.references()
	if err != nil {
		return render.MapView{}, err
	}
	v := render.MapView{
		Date:        d.ComputedAt,
		Dated:       !d.Upload,
		UploadName:  d.UploadName,
		SourceURL:   s.cfg.ZonesURL,
		Zones:       d.ZonesGeoJSON,
		Departments: refs.DepartmentsGeoJSON,
		Itinerary:   refs.ItineraryGeoJSON,
		Bounds:      refs.Bounds,
		ZoneCount:   len(d.Zones),
	}
	if d.ArchiveErr != nil {
		v.Notice = ArchiveNotice
	}
	return v, nil
}

// IndicatorsView assembles the indicators page inputs for d.
func IndicatorsView(d *Dashboard) render.IndicatorsView {
	if d.Indicators == nil {
		v := render.IndicatorsView{}
		if d.ArchiveErr != nil {
			v.Message = d.ArchiveErr.Error()
		}
		return v
	}
	return render.IndicatorsView{Indicators: *d.Indicators, Available: true}
}

// RenderMap returns the map page HTML for d.
func (s *Service) RenderMap(d *Dashboard) ([]byte, error) {
	v, err := s.MapView(d)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := render.MapPage(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPNG exports the map of d through a headless browser.
func (s *Service) RenderPNG(ctx context.Context, d *Dashboard, renderer headless.Renderer) ([]byte, error) {
	if renderer == nil {
		return nil, headless.ErrDisabled
	}
	page, err := s.RenderMap(d)
	if err != nil {
		return nil, err
	}
	png, err := renderer.Capture(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("capture map: %w", err)
	}
	return png, nil
}

// Export stores the map page of d, plus png when not empty, in the blob
// store. It returns the URIs by file name.
func (s *Service) Export(ctx context.Context, d *Dashboard, png []byte) (map[string]string, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("no blob store configured")
	}
	page, err := s.RenderMap(d)
	if err != nil {
		return nil, err
	}
	day := d.ComputedAt.UTC().Format("2006-01-02")
	out := map[string]string{}
	uri, err := s.blobs.PutObject(ctx, fmt.Sprintf("exports/%s/%s.html", day, d.ID), "text/html; charset=utf-8", bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("store map html: %w", err)
	}
	out["map.html"] = uri

	if len(png) == 0 {
		return out, nil
	}
	uri, err = s.blobs.PutObject(ctx, fmt.Sprintf("exports/%s/%s.png", day, d.ID), "image/png", bytes.NewReader(png))
	if err != nil {
		return out, fmt.Errorf("store map png: %w", err)
	}
	out["map.png"] = uri
	return out, nil
}
