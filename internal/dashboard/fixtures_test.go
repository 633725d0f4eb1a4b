package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap/zaptest"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/hash/sha256"
	pubmemory "github.com/AlaingToul/mybinder-arrete-secheresse/internal/publisher/memory"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/memory"
)

const (
	testZonesURL   = "https://example.test/zones.geojson"
	testArchiveURL = "https://example.test/arretes.csv"
	testTopic      = "indicator-snapshots"
)

// Two tiles of zone 1 (Yonne, crise), zone 2 (Marne, alerte), a groundwater
// zone and an overseas zone.
const zonesFixture = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[3.0,47.5],[3.5,47.5],[3.5,48.0],[3.0,47.5]]]},
 "properties":{"id":1,"type":"SUP","niveauGravite":"crise","departement":"{\"code\":\"89\",\"nom\":\"Yonne\"}","arreteRestriction":"{\"fichier\":\"https://example.test/a1.pdf\"}"}},
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[3.5,47.5],[4.0,47.5],[4.0,48.0],[3.5,47.5]]]},
 "properties":{"id":1,"type":"SUP","niveauGravite":"crise","departement":"{\"code\":\"89\",\"nom\":\"Yonne\"}","arreteRestriction":"{\"fichier\":\"https://example.test/a1.pdf\"}"}},
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[4.0,48.8],[4.5,48.8],[4.5,49.2],[4.0,48.8]]]},
 "properties":{"id":2,"type":"SUP","niveauGravite":"alerte","departement":{"code":"51","nom":"Marne"},"arreteRestriction":{"fichier":"https://example.test/a2.pdf"}}},
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[5.0,47.0],[5.5,47.0],[5.5,47.5],[5.0,47.0]]]},
 "properties":{"id":3,"type":"SOU","niveauGravite":"crise","departement":{"code":"21","nom":"Côte-d'Or"},"arreteRestriction":{"fichier":""}}},
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[-61.5,16.0],[-61.0,16.0],[-61.0,16.5],[-61.5,16.0]]]},
 "properties":{"id":4,"type":"SUP","niveauGravite":"alerte","departement":{"code":"971","nom":"Guadeloupe"},"arreteRestriction":{"fichier":""}}}
]}`

// With now = 2025-08-15: order 1 is active on 2025-07-01 (Yonne, crise on
// surface water), order 2 on 2024-08-01 (Côte-d'Or), order 3 has no end date.
const archiveFixture = `id_arrete,date_debut,date_fin,departement,zones_alerte.niveau_gravite,zones_alerte.type
1,2025-06-01,2025-09-30,89,"['crise', 'alerte']","['SUP', 'SOU']"
2,2024-07-15,2024-09-01,21,alerte,SUP
3,2025-06-15,,51,alerte,SUP
`

var testNow = time.Date(2025, time.August, 15, 10, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
	// gate, when set, holds every Fetch until it is closed or ctx ends.
	gate    chan struct{}
	started chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string]string{testZonesURL: zonesFixture, testArchiveURL: archiveFixture},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req drought.FetchRequest) (drought.FetchResponse, error) {
	f.mu.Lock()
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return drought.FetchResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Source]++
	if err := f.errs[req.URL]; err != nil {
		return drought.FetchResponse{}, err
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		return drought.FetchResponse{}, errors.New("unexpected url " + req.URL)
	}
	return drought.FetchResponse{Source: req.Source, URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) setError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// hold makes downloads wait for the returned release function.
func (f *fakeFetcher) hold() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 8)
	gate := f.gate
	return f.started, func() { close(gate) }
}

func (f *fakeFetcher) callCount(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fakeRenderer struct {
	pages [][]byte
}

func (r *fakeRenderer) Capture(_ context.Context, html []byte) ([]byte, error) {
	r.pages = append(r.pages, html)
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

type harness struct {
	svc       *Service
	fetcher   *fakeFetcher
	blobs     *memory.BlobStore
	history   *memory.HistoryStore
	publisher *pubmemory.Publisher
	clock     *clockwork.FakeClock
}

func testReferences(t *testing.T) *References {
	t.Helper()
	line := geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{2.3, 48.8}, {3.6, 47.8}, {4.2, 49.0}})
	poly := func(x, y float64) geom.T {
		return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y}}})
	}
	refs, err := NewReferences(
		drought.Layer{Name: "itineraire", Features: []drought.Feature{{Geometry: line, Properties: map[string]any{"nom": "Seine-Yonne"}}}},
		[]drought.Department{
			{Code: "89", Name: "Yonne", Geometry: poly(3, 47)},
			{Code: "51", Name: "Marne", Geometry: poly(4, 48.5)},
			{Code: "75", Name: "Paris", Geometry: poly(2.2, 48.8)},
		},
	)
	require.NoError(t, err)
	return refs
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fetcher:   newFakeFetcher(),
		blobs:     memory.NewBlobStore(),
		history:   memory.NewHistoryStore(),
		publisher: pubmemory.New(),
		clock:     clockwork.NewFakeClockAt(testNow),
	}
	cfg := Config{
		ZonesURL:   testZonesURL,
		ArchiveURL: testArchiveURL,
		Topic:      testTopic,
		CacheSize:  8,
		CacheTTL:   time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := New(Deps{
		Fetcher:   h.fetcher,
		Blobs:     h.blobs,
		History:   h.history,
		Publisher: h.publisher,
		Hasher:    sha256.New(),
		IDs:       &seqIDs{},
		Clock:     h.clock,
	}, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	svc.SetReferences(testReferences(t))
	h.svc = svc
	return h
}
