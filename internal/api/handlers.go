package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/dashboard"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/headless"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/render"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 365
	uploadField         = "file"
	uploadParam         = "upload"
	defaultMaxUpload    = 32 << 20
)

// Reference layer names accepted by /api/v1/layers/{name}.
const (
	LayerZones       = "zones"
	LayerItinerary   = "itineraire"
	LayerDepartments = "departements"
)

const geoJSONType = "application/geo+json"

// dashboardFor returns the upload named by ?upload=, or the current dashboard.
func (s *Server) dashboardFor(r *http.Request) (*dashboard.Dashboard, error) {
	if id := r.URL.Query().Get(uploadParam); id != "" {
		return s.svc.UploadByID(id)
	}
	return s.svc.Current(r.Context())
}

// fail maps service errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, dashboard.ErrUploadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dashboard.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, headless.ErrDisabled):
		status = http.StatusNotImplemented
	}
	if status == http.StatusBadGateway {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func (s *Server) mapPage(w http.ResponseWriter, r *http.Request) {
	d, err := s.dashboardFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.svc.MapView(d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view.UploadForm = !s.cfg.Auth.Enabled
	var buf bytes.Buffer
	if err := render.MapPage(&buf, view); err != nil {
		s.fail(w, r, err)
		return
	}
	writeBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) indicatorsPage(w http.ResponseWriter, r *http.Request) {
	d, err := s.dashboardFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := render.IndicatorsPage(&buf, dashboard.IndicatorsView(d)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) mapPNG(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		s.fail(w, r, headless.ErrDisabled)
		return
	}
	d, err := s.dashboardFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	png, err := s.svc.RenderPNG(r.Context(), d, s.renderer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeBody(w, "image/png", png)
}

type indicatorsResponse struct {
	SnapshotID string              `json:"snapshot_id"`
	ComputedAt time.Time           `json:"computed_at"`
	Available  bool                `json:"available"`
	Error      string              `json:"error,omitempty"`
	Indicators *drought.Indicators `json:"indicators,omitempty"`
	Deltas     *deltasDTO          `json:"deltas,omitempty"`
}

type deltasDTO struct {
	DeptFR  string                   `json:"dept_fr"`
	Network map[drought.Level]string `json:"network"`
}

func toDeltas(ind *drought.Indicators) *deltasDTO {
	out := &deltasDTO{
		DeptFR:  ind.DeltaFR().String(),
		Network: make(map[drought.Level]string, len(drought.Levels)),
	}
	for _, l := range drought.Levels {
		out.Network[l] = ind.DeltaNetwork(l).String()
	}
	return out
}

func (s *Server) getIndicators(w http.ResponseWriter, r *http.Request) {
	d, err := s.dashboardFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := indicatorsResponse{
		SnapshotID: d.ID,
		ComputedAt: d.ComputedAt,
		Available:  d.Indicators != nil,
		Indicators: d.Indicators,
	}
	if d.Indicators != nil {
		resp.Deltas = toDeltas(d.Indicators)
	} else if d.ArchiveErr != nil {
		resp.Error = d.ArchiveErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getZones(w http.ResponseWriter, r *http.Request) {
	d, err := s.dashboardFor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeBody(w, geoJSONType, d.ZonesGeoJSON)
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == LayerZones {
		s.getZones(w, r)
		return
	}
	refs, err := s.svc.References()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch name {
	case LayerItinerary:
		writeBody(w, geoJSONType, refs.ItineraryGeoJSON)
	case LayerDepartments:
		writeBody(w, geoJSONType, refs.DepartmentsGeoJSON)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown layer %q", name))
	}
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := s.svc.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("list history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if snaps == nil {
		snaps = []drought.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Refresh(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{
		"snapshot_id": d.ID,
		"zones":       len(d.Zones),
		"available":   d.Indicators != nil,
		"blob_uris":   d.BlobURIs,
	}
	if d.ArchiveErr != nil {
		resp["error"] = d.ArchiveErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Server.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			s.logger.Warn("close upload failed", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	d, err := s.svc.Upload(r.Context(), header.Filename, data)
	if err != nil {
		if errors.Is(err, dashboard.ErrNotReady) {
			s.fail(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	location := "/?" + url.Values{uploadParam: {d.ID}}.Encode()
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, location, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"upload_id": d.ID,
		"zones":     len(d.Zones),
		"available": d.Indicators != nil,
		"url":       location,
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := strings.TrimSpace(r.URL.Query().Get("limit"))
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
