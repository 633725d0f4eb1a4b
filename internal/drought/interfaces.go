package drought

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads a remote dataset.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes snapshot events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// HistoryStore persists computed indicator snapshots.
type HistoryStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

// Hasher computes digests used to skip archiving unchanged downloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces snapshot and upload IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// FetchRequest captures everything needed to download a dataset.
type FetchRequest struct {
	Source  string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	Source     string
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Snapshot is one persisted refresh result.
type Snapshot struct {
	ID          string     `json:"id"`
	TakenAt     time.Time  `json:"taken_at"`
	ZonesHash   string     `json:"zones_hash"`
	ArchiveHash string     `json:"archive_hash,omitempty"`
	ZoneCount   int        `json:"zone_count"`
	Indicators  Indicators `json:"indicators"`
}
