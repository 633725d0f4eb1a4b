package dashboard

import (
	"context"
	"fmt"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/source"
)

// References are the static layers: the waterway itinerary and the
// departments it crosses, both in WGS 84.
type References struct {
	Itinerary          drought.Layer
	Departments        []drought.Department
	ItineraryGeoJSON   []byte
	DepartmentsGeoJSON []byte
	// Bounds is the extent of the itinerary, used to fit the map.
	Bounds *geom.Bounds
}

// LoadReferences reads both reference layers from disk.
func (s *Service) LoadReferences(ctx context.Context) error {
	var itinerary, departments drought.Layer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		layer, err := source.ReadLayer(gctx, s.cfg.ItineraryPath)
		if err != nil {
			return fmt.Errorf("itinerary layer: %w", err)
		}
		itinerary = layer
		return nil
	})
	g.Go(func() error {
		layer, err := source.ReadLayer(gctx, s.cfg.DepartmentsPath)
		if err != nil {
			return fmt.Errorf("departments layer: %w", err)
		}
		departments = layer
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	refs, err := NewReferences(itinerary, source.Departments(departments))
	if err != nil {
		return err
	}
	s.SetReferences(refs)
	s.logger.Info("reference layers loaded",
		zap.Int("itinerary_features", len(itinerary.Features)),
		zap.Int("departments", len(refs.Departments)),
	)
	return nil
}

// NewReferences encodes the layers for the map and computes the bounds.
func NewReferences(itinerary drought.Layer, depts []drought.Department) (*References, error) {
	itineraryJSON, err := source.EncodeFeatureCollection(itinerary.Features)
	if err != nil {
		return nil, fmt.Errorf("encode itinerary: %w", err)
	}
	deptJSON, err := source.EncodeFeatureCollection(source.DepartmentFeatures(depts))
	if err != nil {
		return nil, fmt.Errorf("encode departments: %w", err)
	}
	geoms := make([]geom.T, 0, len(itinerary.Features))
	for _, f := range itinerary.Features {
		geoms = append(geoms, f.Geometry)
	}
	return &References{
		Itinerary:          itinerary,
		Departments:        depts,
		ItineraryGeoJSON:   itineraryJSON,
		DepartmentsGeoJSON: deptJSON,
		Bounds:             source.Bounds(geoms),
	}, nil
}

// SetReferences installs already loaded layers.
func (s *Service) SetReferences(refs *References) {
	s.mu.Lock()
	s.refs = refs
	s.mu.Unlock()
}

// References returns the loaded layers or ErrNotReady.
func (s *Service) References() (*References, error) {
	return s.references()
}

func (s *Service) references() (*References, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.refs == nil {
		return nil, ErrNotReady
	}
	return s.refs, nil
}
