package dashboard

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/source"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/telemetry"
)

const uploadKeyPrefix = "upload/"

// Upload builds a dashboard from a user-supplied zone file (GeoJSON, or a zip
// holding one). Uploaded zones are not dissolved. Indicators reuse the last
// downloaded archive when there is one.
func (s *Service) Upload(ctx context.Context, name string, data []byte) (*Dashboard, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dashboard.Upload",
		trace.WithAttributes(attribute.String("upload.name", name), attribute.Int("upload.bytes", len(data))))
	defer span.End()

	refs, err := s.references()
	if err != nil {
		return nil, err
	}
	payload, err := source.UnpackUpload(data, s.cfg.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("unpack upload: %w", err)
	}
	features, err := source.ParseFeatureCollection(payload)
	if err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	zones, err := drought.FilterZones(features, drought.FilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("filter upload: %w", err)
	}
	zonesJSON, err := source.EncodeFeatureCollection(source.ZoneFeatures(zones))
	if err != nil {
		return nil, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("upload id: %w", err)
	}
	hash, err := s.hasher.Hash(payload)
	if err != nil {
		return nil, fmt.Errorf("hash upload: %w", err)
	}

	now := s.clock.Now()
	d := &Dashboard{
		ID:           id,
		Upload:       true,
		UploadName:   name,
		ComputedAt:   now,
		Zones:        zones,
		ZonesGeoJSON: zonesJSON,
		ZonesHash:    hash,
		BlobURIs:     map[string]string{},
	}

	s.archiveRaw(ctx, d, SourceUpload, hash, "application/geo+json", "geojson", payload)

	s.mu.RLock()
	orders, haveOrders := s.orders, s.haveOrders
	s.mu.RUnlock()
	if !haveOrders {
		d.ArchiveErr = ErrNoArchive
	} else {
		ind := drought.BuildIndicators(orders, zones, refs.Departments, now)
		d.Indicators = &ind
	}

	s.cache.Add(uploadKeyPrefix+id, d)
	s.logger.Info("upload processed",
		zap.String("upload_id", id),
		zap.String("name", name),
		zap.Int("features", len(features)),
		zap.Int("zones", len(zones)),
	)
	return d, nil
}

// UploadByID returns a memoized upload dashboard.
func (s *Service) UploadByID(id string) (*Dashboard, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUploadNotFound
	}
	d, ok := s.cache.Get(uploadKeyPrefix + id)
	if !ok {
		return nil, ErrUploadNotFound
	}
	return d, nil
}
