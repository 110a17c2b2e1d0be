package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngestCountsOCRPages(t *testing.T) {
	before := testutil.ToFloat64(ocrPages.WithLabelValues("pdf"))
	ObserveIngest("pdf", "ok", true, 3)
	ObserveIngest("pdf", "ok", false, 0)
	if got := testutil.ToFloat64(ocrPages.WithLabelValues("pdf")) - before; got != 3 {
		t.Fatalf("ocr pages delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ingestReqs.WithLabelValues("pdf", "ok")); got < 2 {
		t.Fatalf("ingest requests = %v", got)
	}
}

func TestObserveOCR(t *testing.T) {
	ObserveOCR("azure", "success", 1500*time.Millisecond)
	if got := testutil.ToFloat64(ocrReqs.WithLabelValues("azure", "success")); got < 1 {
		t.Fatalf("ocr requests = %v", got)
	}
	if n := testutil.CollectAndCount(ocrLatency); n == 0 {
		t.Fatal("latency histogram not collected")
	}
}
