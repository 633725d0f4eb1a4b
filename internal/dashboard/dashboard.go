// Package dashboard runs the refresh pipeline: it downloads the zone layer
// and the order archive, joins them with the reference layers, computes the
// indicators and keeps the result memoized for the HTTP and CLI surfaces.
package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/metrics"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/source"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/telemetry"
)

// Source names used for downloads, blob paths and metrics.
const (
	SourceZones   = "zones"
	SourceArchive = "archive"
	SourceUpload  = "upload"
)

const currentKey = "current"

var (
	// ErrUploadNotFound is returned for unknown or expired upload IDs.
	ErrUploadNotFound = errors.New("upload not found")
	// ErrNotReady is returned before the reference layers are loaded.
	ErrNotReady = errors.New("reference layers are not loaded")
	// ErrNoArchive is recorded on uploads made before any archive was read.
	ErrNoArchive = errors.New("order archive has not been downloaded yet")
)

// Config controls Service behavior.
type Config struct {
	ZonesURL        string
	ArchiveURL      string
	ItineraryPath   string
	DepartmentsPath string
	BlobPrefix      string
	Topic           string
	CacheSize       int
	CacheTTL        time.Duration
	MaxUploadBytes  int64
	// RefreshTimeout bounds a refresh shared by concurrent Current callers.
	RefreshTimeout time.Duration
}

// Deps groups the collaborators of a Service. Blobs, History and Publisher
// are optional.
type Deps struct {
	Fetcher   drought.Fetcher
	Blobs     drought.BlobStore
	History   drought.HistoryStore
	Publisher drought.Publisher
	Hasher    drought.Hasher
	IDs       drought.IDGenerator
	Clock     clockwork.Clock
}

// Dashboard is one computed view: zones to draw plus the indicator table.
type Dashboard struct {
	ID           string
	Upload       bool
	UploadName   string
	ComputedAt   time.Time
	Zones        []drought.Zone
	ZonesGeoJSON []byte
	ZonesHash    string
	ArchiveHash  string
	Orders       source.OrdersStats
	// Indicators is nil when the archive could not be read; ArchiveErr says why.
	Indicators *drought.Indicators
	ArchiveErr error
	BlobURIs   map[string]string
}

// Service owns the reference layers and the memoized dashboards.
type Service struct {
	cfg       Config
	fetcher   drought.Fetcher
	blobs     drought.BlobStore
	history   drought.HistoryStore
	publisher drought.Publisher
	hasher    drought.Hasher
	ids       drought.IDGenerator
	clock     clockwork.Clock
	logger    *zap.Logger

	cache    *expirable.LRU[string, *Dashboard]
	group    singleflight.Group
	computed atomic.Bool

	mu         sync.RWMutex
	refs       *References
	orders     []drought.Order
	haveOrders bool
	lastHashes map[string]string
}

// New constructs a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Hasher == nil || deps.IDs == nil {
		return nil, fmt.Errorf("hasher and id generator are required")
	}
	if cfg.ZonesURL == "" || cfg.ArchiveURL == "" {
		return nil, fmt.Errorf("zones and archive URLs are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 16
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Minute
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "raw"
	}
	return &Service{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		blobs:      deps.Blobs,
		history:    deps.History,
		publisher:  deps.Publisher,
		hasher:     deps.Hasher,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     logger,
		cache:      expirable.NewLRU[string, *Dashboard](cfg.CacheSize, nil, cfg.CacheTTL),
		lastHashes: make(map[string]string),
	}, nil
}

// Ready reports whether the reference layers are loaded and a dashboard has
// been computed at least once. Cache expiry does not clear it.
func (s *Service) Ready() bool {
	s.mu.RLock()
	loaded := s.refs != nil
	s.mu.RUnlock()
	return loaded && s.computed.Load()
}

// Current returns the memoized dashboard, refreshing it when it expired.
// Concurrent callers share a single refresh, which runs detached from any
// one caller's context: a caller giving up only abandons its own wait.
func (s *Service) Current(ctx context.Context) (*Dashboard, error) {
	if d, ok := s.cache.Get(currentKey); ok {
		return d, nil
	}
	ch := s.group.DoChan(currentKey, func() (any, error) {
		if d, ok := s.cache.Get(currentKey); ok {
			return d, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefreshTimeout)
		defer cancel()
		return s.Refresh(rctx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Dashboard), nil
	}
}

// Refresh downloads both datasets in parallel and recomputes the dashboard.
// A failed zone download is an error. A failed archive download only leaves
// the indicators unavailable.
func (s *Service) Refresh(ctx context.Context) (*Dashboard, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dashboard.Refresh")
	defer span.End()

	d, err := s.refresh(ctx)
	if err != nil {
		metrics.ObserveRefresh("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("snapshot.id", d.ID),
		attribute.Int("zones.count", len(d.Zones)),
		attribute.Bool("indicators.available", d.Indicators != nil),
	)
	return d, nil
}

func (s *Service) refresh(ctx context.Context) (*Dashboard, error) {
	refs, err := s.references()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var (
		zonesBody   []byte
		archiveBody []byte
		archiveErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := s.download(gctx, SourceZones, s.cfg.ZonesURL)
		if err != nil {
			return err
		}
		zonesBody = body
		return nil
	})
	g.Go(func() error {
		// Never returned: the map must render without the archive.
		archiveBody, archiveErr = s.download(gctx, SourceArchive, s.cfg.ArchiveURL)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	features, err := source.ParseFeatureCollection(zonesBody)
	if err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	zones, err := drought.FilterZones(features, drought.FilterOptions{Dissolve: true})
	if err != nil {
		return nil, fmt.Errorf("filter zones: %w", err)
	}
	zonesJSON, err := source.EncodeFeatureCollection(source.ZoneFeatures(zones))
	if err != nil {
		return nil, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("snapshot id: %w", err)
	}
	d := &Dashboard{
		ID:           id,
		ComputedAt:   now,
		Zones:        zones,
		ZonesGeoJSON: zonesJSON,
		BlobURIs:     map[string]string{},
	}
	if d.ZonesHash, err = s.hasher.Hash(zonesBody); err != nil {
		return nil, fmt.Errorf("hash zones: %w", err)
	}
	s.archiveRaw(ctx, d, SourceZones, d.ZonesHash, "application/geo+json", "geojson", zonesBody)

	if archiveErr == nil {
		var orders []drought.Order
		orders, d.Orders, archiveErr = source.ParseOrders(bytes.NewReader(archiveBody))
		if archiveErr == nil {
			s.mu.Lock()
			s.orders = orders
			s.haveOrders = true
			s.mu.Unlock()
			ind := drought.BuildIndicators(orders, zones, refs.Departments, now)
			d.Indicators = &ind
			if d.ArchiveHash, err = s.hasher.Hash(archiveBody); err != nil {
				return nil, fmt.Errorf("hash archive: %w", err)
			}
			s.archiveRaw(ctx, d, SourceArchive, d.ArchiveHash, "text/csv", "csv", archiveBody)
		}
	}
	d.ArchiveErr = archiveErr

	s.observe(d)
	s.cache.Add(currentKey, d)
	s.computed.Store(true)

	if d.Indicators != nil {
		s.saveSnapshot(ctx, d)
	}
	s.logger.Info("dashboard refreshed",
		zap.String("snapshot_id", d.ID),
		zap.Int("zones", len(d.Zones)),
		zap.Int("archive_rows", d.Orders.Rows),
		zap.Int("archive_dropped", d.Orders.Dropped),
		zap.Bool("indicators", d.Indicators != nil),
		zap.Error(d.ArchiveErr),
	)
	return d, nil
}

func (s *Service) download(ctx context.Context, name, url string) (body []byte, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dashboard.download",
		trace.WithAttributes(attribute.String("source", name), attribute.String("url", url)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("bytes", len(body)))
		}
		span.End()
	}()

	resp, err := s.fetcher.Fetch(ctx, drought.FetchRequest{Source: name, URL: url})
	if err != nil {
		s.logger.Warn("download failed", zap.String("source", name), zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download %s: status %d", name, resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("download %s: empty body", name)
	}
	s.logger.Debug("download succeeded",
		zap.String("source", name),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return resp.Body, nil
}

func (s *Service) observe(d *Dashboard) {
	metrics.SetZones(len(d.Zones))
	if d.Indicators == nil {
		metrics.ObserveRefresh("partial")
		return
	}
	metrics.ObserveRefresh("ok")
	for _, row := range d.Indicators.Rows() {
		metrics.SetDepartments(string(row.Horizon), "fr", "restricted", row.DeptFR)
		for _, l := range drought.Levels {
			metrics.SetDepartments(string(row.Horizon), "network", string(l), row.Network[l].Count)
		}
	}
}
