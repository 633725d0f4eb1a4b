package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/config"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/dashboard"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/hash/sha256"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/memory"
)

const (
	zonesURL   = "https://example.test/zones.geojson"
	archiveURL = "https://example.test/arretes.csv"
)

const zonesBody = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[3.0,47.5],[3.5,47.5],[3.5,48.0],[3.0,47.5]]]},
 "properties":{"id":1,"type":"SUP","niveauGravite":"crise","departement":{"code":"89","nom":"Yonne"},"arreteRestriction":{"fichier":"https://example.test/a1.pdf"}}},
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[4.0,48.8],[4.5,48.8],[4.5,49.2],[4.0,48.8]]]},
 "properties":{"id":2,"type":"SUP","niveauGravite":"alerte","departement":{"code":"51","nom":"Marne"},"arreteRestriction":{"fichier":""}}}
]}`

const archiveBody = `id_arrete,date_debut,date_fin,departement,zones_alerte.niveau_gravite,zones_alerte.type
1,2025-06-01,2025-09-30,89,crise,SUP
`

type apiFetcher struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *apiFetcher) Fetch(_ context.Context, req drought.FetchRequest) (drought.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[req.URL]; err != nil {
		return drought.FetchResponse{}, err
	}
	body := zonesBody
	if req.URL == archiveURL {
		body = archiveBody
	}
	return drought.FetchResponse{Source: req.Source, URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type apiIDs struct {
	mu sync.Mutex
	n  int
}

func (g *apiIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "snap-" + string(rune('a'+g.n-1)), nil
}

func square(x, y float64) geom.T {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y}}})
}

type pngRenderer struct{}

func (pngRenderer) Capture(_ context.Context, _ []byte) ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

type testEnv struct {
	server  *Server
	svc     *dashboard.Service
	fetcher *apiFetcher
}

func newTestEnv(t *testing.T, cfg config.Config, withRefs bool) *testEnv {
	t.Helper()
	fetcher := &apiFetcher{errs: map[string]error{}}
	svc, err := dashboard.New(dashboard.Deps{
		Fetcher: fetcher,
		Blobs:   memory.NewBlobStore(),
		History: memory.NewHistoryStore(),
		Hasher:  sha256.New(),
		IDs:     &apiIDs{},
		Clock:   clockwork.NewFakeClockAt(time.Date(2025, time.August, 15, 10, 0, 0, 0, time.UTC)),
	}, dashboard.Config{ZonesURL: zonesURL, ArchiveURL: archiveURL}, zap.NewNop())
	require.NoError(t, err)
	if withRefs {
		line := geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{3.2, 47.6}, {4.2, 49.0}})
		refs, err := dashboard.NewReferences(
			drought.Layer{Name: "itineraire", Features: []drought.Feature{{Geometry: line, Properties: map[string]any{"nom": "Canal"}}}},
			[]drought.Department{
				{Code: "89", Name: "Yonne", Geometry: square(3, 47)},
				{Code: "51", Name: "Marne", Geometry: square(4, 48.5)},
			},
		)
		require.NoError(t, err)
		svc.SetReferences(refs)
	}
	return &testEnv{
		server:  NewServer(svc, nil, cfg, zap.NewNop()),
		svc:     svc,
		fetcher: fetcher,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func uploadRequest(t *testing.T, target, field, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	require.Equal(t, http.StatusOK, env.get(t, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, env.get(t, "/readyz").Code)

	_, err := env.svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, env.get(t, "/readyz").Code)
}

func TestMapPage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "en date du 15/08/2025")
	assert.Contains(t, rec.Body.String(), `action="/api/v1/upload?redirect=1"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMapPageHidesUploadFormWithAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}, true)

	rec := env.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<form")
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestMapPageWithoutReferences(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, false)

	rec := env.get(t, "/")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), dashboard.ErrNotReady.Error())
}

func TestMapPageZonesDownloadFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)
	env.fetcher.errs[zonesURL] = errors.New("connection refused")

	rec := env.get(t, "/")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestIndicatorsPage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.get(t, "/indicateurs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Arrêtés sécheresse en vigueur")
}

func TestIndicatorsJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.get(t, "/api/v1/indicators")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Available  bool               `json:"available"`
		Indicators drought.Indicators `json:"indicators"`
		Deltas     struct {
			DeptFR  string            `json:"dept_fr"`
			Network map[string]string `json:"network"`
		} `json:"deltas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Available)
	assert.Equal(t, 2, resp.Indicators.Current.DeptFR)
	assert.Equal(t, 1, resp.Indicators.PreviousMonth.DeptFR)
	assert.Equal(t, "+ 1", resp.Deltas.DeptFR)
	assert.Equal(t, "identique", resp.Deltas.Network["crise"])
	assert.Equal(t, "+ 1", resp.Deltas.Network["alerte"])
}

func TestIndicatorsJSONWithoutArchive(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)
	env.fetcher.errs[archiveURL] = errors.New("status 500")

	rec := env.get(t, "/api/v1/indicators")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":false`)
	assert.Contains(t, rec.Body.String(), "status 500")

	page := env.get(t, "/")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), dashboard.ArchiveNotice)
}

func TestLayers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.get(t, "/api/v1/layers/itineraire")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Canal")

	rec = env.get(t, "/api/v1/layers/departements")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Marne")

	rec = env.get(t, "/api/v1/layers/zones")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#b10026")

	rec = env.get(t, "/api/v1/layers/rivers")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.get(t, "/api/v1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"snapshots":[]}`, rec.Body.String())

	_, err := env.svc.Refresh(context.Background())
	require.NoError(t, err)

	rec = env.get(t, "/api/v1/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Snapshots []drought.Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Snapshots, 1)
	assert.Equal(t, 2, resp.Snapshots[0].ZoneCount)

	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/history?limit=abc").Code)
}

func TestRefreshRequiresAPIKey(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	env := newTestEnv(t, cfg, true)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"zones":2`)

	require.Equal(t, http.StatusOK, env.get(t, "/healthz").Code)
}

func TestPostRoutesAreThrottled(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Server: config.ServerConfig{PostsPerMinute: 1, PostBurst: 1}}
	env := newTestEnv(t, cfg, true)

	require.Equal(t, http.StatusOK, env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)).Code)
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, env.get(t, "/api/v1/indicators").Code)
}

func TestUploadJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.do(t, uploadRequest(t, "/api/v1/upload", "file", "zones.geojson", []byte(zonesBody)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		UploadID string `json:"upload_id"`
		Zones    int    `json:"zones"`
		URL      string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Zones)
	assert.Equal(t, "/?upload="+resp.UploadID, resp.URL)

	page := env.get(t, resp.URL)
	require.Equal(t, http.StatusOK, page.Code)
	assert.NotContains(t, page.Body.String(), "en date du")

	require.Equal(t, http.StatusNotFound, env.get(t, "/?upload=unknown").Code)
}

func TestUploadRedirect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.do(t, uploadRequest(t, "/api/v1/upload?redirect=1", "file", "zones.geojson", []byte(zonesBody)))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/?upload="))
}

func TestUploadRejectsBadRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	rec := env.do(t, uploadRequest(t, "/api/v1/upload", "other", "zones.geojson", []byte(zonesBody)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, uploadRequest(t, "/api/v1/upload", "file", "zones.geojson", []byte("not geojson")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("plain")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapPNG(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	require.Equal(t, http.StatusNotImplemented, env.get(t, "/map.png").Code)

	server := NewServer(env.svc, pngRenderer{}, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/map.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	require.Equal(t, http.StatusOK, env.get(t, "/healthz").Code)
	rec := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.Config{}, true)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := env.do(t, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		query   string
		want    int
		wantErr bool
	}{
		"default": {query: "", want: 30},
		"value":   {query: "limit=7", want: 7},
		"capped":  {query: "limit=9999", want: 365},
		"zero":    {query: "limit=0", wantErr: true},
		"garbage": {query: "limit=x", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/history?"+tc.query, nil)
			got, err := parseLimit(req, defaultHistoryLimit, maxHistoryLimit)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
