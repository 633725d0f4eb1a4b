package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

func (s *Service) buildBlobPath(name, hash, ext string) string {
	day := s.clock.Now().UTC().Format("2006-01-02")
	prefix := strings.Trim(s.cfg.BlobPrefix, "/")
	return fmt.Sprintf("%s/%s/%s/%s.%s", prefix, name, day, hash, ext)
}

// archiveRaw stores a downloaded dataset unless it is identical to the last
// one stored for that source. Failures are logged; they never fail a refresh.
func (s *Service) archiveRaw(ctx context.Context, d *Dashboard, name, hash, contentType, ext string, body []byte) {
	if s.blobs == nil {
		return
	}
	s.mu.RLock()
	unchanged := s.lastHashes[name] == hash
	s.mu.RUnlock()
	if unchanged {
		s.logger.Debug("dataset unchanged, not archived", zap.String("source", name), zap.String("hash", hash))
		return
	}

	uri, err := s.blobs.PutObject(ctx, s.buildBlobPath(name, hash, ext), contentType, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("archive dataset failed", zap.String("source", name), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.lastHashes[name] = hash
	s.mu.Unlock()
	d.BlobURIs[name] = uri
	s.logger.Info("dataset archived", zap.String("source", name), zap.String("blob_uri", uri))
}

func (s *Service) saveSnapshot(ctx context.Context, d *Dashboard) {
	snap := drought.Snapshot{
		ID:          d.ID,
		TakenAt:     d.ComputedAt,
		ZonesHash:   d.ZonesHash,
		ArchiveHash: d.ArchiveHash,
		ZoneCount:   len(d.Zones),
		Indicators:  *d.Indicators,
	}
	if s.history != nil {
		if err := s.history.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Warn("save snapshot failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		}
	}
	if err := s.publishSnapshot(ctx, d, snap); err != nil {
		s.logger.Warn("publish snapshot failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
	}
}

func (s *Service) publishSnapshot(ctx context.Context, d *Dashboard, snap drought.Snapshot) error {
	if s.cfg.Topic == "" || s.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"snapshot_id":  snap.ID,
		"taken_at":     snap.TakenAt.Format(time.RFC3339),
		"zones_hash":   snap.ZonesHash,
		"archive_hash": snap.ArchiveHash,
		"zone_count":   snap.ZoneCount,
		"dept_fr":      snap.Indicators.Current.DeptFR,
		"blob_uris":    d.BlobURIs,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	s.logger.Info("snapshot published", zap.String("snapshot_id", snap.ID), zap.String("topic", s.cfg.Topic))
	return nil
}

// History lists stored snapshots, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]drought.Snapshot, error) {
	if s.history == nil {
		return nil, nil
	}
	snaps, err := s.history.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return snaps, nil
}
