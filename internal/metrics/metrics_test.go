package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDownload(t *testing.T) {
	before := testutil.ToFloat64(downloadsTotal.WithLabelValues("archive", "ok"))
	beforeBytes := testutil.ToFloat64(downloadBytesTotal.WithLabelValues("archive"))

	ObserveDownload("archive", "ok", 128)

	if got := testutil.ToFloat64(downloadsTotal.WithLabelValues("archive", "ok")); got != before+1 {
		t.Fatalf("downloads = %f, want %f", got, before+1)
	}
	if got := testutil.ToFloat64(downloadBytesTotal.WithLabelValues("archive")); got != beforeBytes+128 {
		t.Fatalf("bytes = %f, want %f", got, beforeBytes+128)
	}
}

func TestObserveDownloadUnknownSource(t *testing.T) {
	before := testutil.ToFloat64(downloadsTotal.WithLabelValues("unknown", "error"))
	ObserveDownload("", "error", 0)
	if got := testutil.ToFloat64(downloadsTotal.WithLabelValues("unknown", "error")); got != before+1 {
		t.Fatalf("downloads = %f, want %f", got, before+1)
	}
}

func TestGauges(t *testing.T) {
	SetZones(12)
	if got := testutil.ToFloat64(zonesGauge); got != 12 {
		t.Fatalf("zones = %f, want 12", got)
	}
	SetDepartments("current", "network", "crise", 3)
	if got := testutil.ToFloat64(departmentsGauge.WithLabelValues("current", "network", "crise")); got != 3 {
		t.Fatalf("departments = %f, want 3", got)
	}
	ObserveRefresh("ok")
	ObserveHTTPRequest("GET", "/", 200, 10*time.Millisecond)
	if got := testutil.ToFloat64(refreshTotal.WithLabelValues("ok")); got < 1 {
		t.Fatalf("refresh counter not incremented: %f", got)
	}
}
