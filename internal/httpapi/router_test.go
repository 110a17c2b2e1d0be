package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/local/notesingest/internal/fetch"
	"github.com/local/notesingest/internal/ingest"
	"github.com/local/notesingest/internal/meeting"
	"github.com/local/notesingest/internal/usage"
)

type stubIngester struct {
	got ingest.Request
	res ingest.Result
	err error
}

func (s *stubIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	s.got = req
	return s.res, s.err
}

type stubPacker struct {
	notes, title string
}

func (s *stubPacker) Pack(_ context.Context, notes, title string) meeting.Pack {
	s.notes, s.title = notes, title
	return meeting.Pack{
		Markdown:  "# " + title,
		Actions:   []meeting.ActionItem{},
		Decisions: []string{"Ship it"},
	}
}

type memUsage struct {
	events []usage.Event
	err    error
}

func (m *memUsage) Log(_ context.Context, ev usage.Event) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.events = append(m.events, ev)
	return int64(len(m.events)), nil
}

func (m *memUsage) List(_ context.Context, tenantID, userID string, limit int) ([]usage.Event, error) {
	out := []usage.Event{}
	for _, ev := range m.events {
		if ev.TenantID == tenantID && (userID == "" || ev.UserID == userID) {
			out = append(out, ev)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memUsage) Summary(_ context.Context, tenantID, userID string) (usage.Summary, error) {
	sum := usage.Summary{TenantID: tenantID, UserID: userID}
	for _, ev := range m.events {
		if ev.TenantID == tenantID {
			sum.TotalRequests++
			sum.TotalOCRPages += ev.OCRPages
		}
	}
	return sum, nil
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string) (bool, error) { return false, d.err }

type stubFetcher struct {
	doc fetch.Document
	err error
}

func (f stubFetcher) Fetch(context.Context, string) (fetch.Document, error) { return f.doc, f.err }

func multipartBody(t *testing.T, fields map[string]string, filename string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(file)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	h := NewRouter(Dependencies{Pipeline: &stubIngester{}, Extractor: &stubPacker{}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing generated request id")
	}
}

func TestIngestMultipartText(t *testing.T) {
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourceText, Text: "hello world notes"}}
	store := &memUsage{}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, Usage: store})

	body, ct := multipartBody(t, map[string]string{"text": "hello world notes"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(HeaderTenantID, "acme")
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["tenant_id"] != "acme" || out["user_id"] != "u1" || out["request_id"] != "req-42" {
		t.Fatalf("identity = %v", out)
	}
	if out["source"] != "text" || out["text"] != "hello world notes" || out["ocr_used"] != false {
		t.Fatalf("result = %v", out)
	}
	if rec.Header().Get(HeaderRequestID) != "req-42" {
		t.Fatalf("request id header = %q", rec.Header().Get(HeaderRequestID))
	}
	if ing.got.Text != "hello world notes" {
		t.Fatalf("pipeline got %+v", ing.got)
	}
	if len(store.events) != 1 {
		t.Fatalf("usage events = %d", len(store.events))
	}
	ev := store.events[0]
	if ev.TenantID != "acme" || ev.Endpoint != "/v1/ingest" || ev.TokenEstimate != 4 || ev.DocDigest != "" {
		t.Fatalf("usage event = %+v", ev)
	}
}

func TestIngestMultipartFileSniffsContentType(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourcePDF, Text: "x", OCRUsed: true, OCRPages: 2}}
	store := &memUsage{}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, Usage: store})

	body, ct := multipartBody(t, nil, "scan", pdf)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if ing.got.ContentType != "application/pdf" || ing.got.Filename != "scan" {
		t.Fatalf("pipeline got filename=%q content type=%q", ing.got.Filename, ing.got.ContentType)
	}
	if ev := store.events[0]; ev.TenantID != defaultTenant || ev.UserID != defaultUser || ev.OCRPages != 2 || ev.DocDigest == "" {
		t.Fatalf("usage event = %+v", ev)
	}
}

func TestIngestErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: empty", ingest.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{&ingest.PageLimitError{Pages: 30, Max: 20}, http.StatusRequestEntityTooLarge, "page_limit_exceeded"},
		{&ingest.UnsupportedFileTypeError{Filename: "a.docx", ContentType: "application/msword"}, http.StatusUnsupportedMediaType, "unsupported_file_type"},
		{&ingest.OCRError{PageRange: "1", Err: errors.New("boom")}, http.StatusBadGateway, "ocr_backend_failure"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		store := &memUsage{}
		h := NewRouter(Dependencies{Pipeline: &stubIngester{err: tc.err}, Extractor: &stubPacker{}, Usage: store})
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"text":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		out := decode(t, rec)
		e, _ := out["error"].(map[string]any)
		if e["kind"] != tc.kind {
			t.Fatalf("%v: kind = %v, want %s", tc.err, e["kind"], tc.kind)
		}
		if out["request_id"] == "" {
			t.Fatalf("%v: missing request_id", tc.err)
		}
		if len(store.events) != 0 {
			t.Fatalf("%v: usage logged on failure", tc.err)
		}
	}
}

func TestIngestPageLimitMessage(t *testing.T) {
	h := NewRouter(Dependencies{Pipeline: &stubIngester{err: &ingest.PageLimitError{Pages: 21, Max: 20}}, Extractor: &stubPacker{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"text":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	e, _ := decode(t, rec)["error"].(map[string]any)
	if e["message"] != "PDF has 21 pages; max allowed is 20" {
		t.Fatalf("message = %v", e["message"])
	}
}

func TestIngestUsageFailureDoesNotFailRequest(t *testing.T) {
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourceText, Text: "ok"}}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, Usage: &memUsage{err: errors.New("locked")}})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"text":"ok"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestRejectsOversizedUpload(t *testing.T) {
	ing := &stubIngester{}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, MaxUploadBytes: 16})
	body, ct := multipartBody(t, nil, "a.png", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestIngestRejectsUnknownBodyType(t *testing.T) {
	h := NewRouter(Dependencies{Pipeline: &stubIngester{}, Extractor: &stubPacker{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestFileURL(t *testing.T) {
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourceImage, Text: "scanned", OCRUsed: true, OCRPages: 1}}
	f := stubFetcher{doc: fetch.Document{Data: []byte("img"), Filename: "board.png", ContentType: "image/png"}}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, Fetcher: f})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"file_url":"s3://notes/board.png"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if string(ing.got.File) != "img" || ing.got.Filename != "board.png" || ing.got.ContentType != "image/png" {
		t.Fatalf("pipeline got %+v", ing.got)
	}
}

func TestIngestFileURLErrors(t *testing.T) {
	cases := []struct {
		fetcher DocumentFetcher
		status  int
	}{
		{nil, http.StatusBadRequest},
		{stubFetcher{err: fmt.Errorf("%w: 99 bytes", fetch.ErrTooLarge)}, http.StatusRequestEntityTooLarge},
		{stubFetcher{err: fmt.Errorf("%w: \"ftp\"", fetch.ErrUnsupportedScheme)}, http.StatusBadRequest},
		{stubFetcher{err: fmt.Errorf("%w: \"127.0.0.1\"", fetch.ErrHostNotAllowed)}, http.StatusBadRequest},
		{stubFetcher{err: errors.New("connection reset")}, http.StatusBadGateway},
	}
	for i, tc := range cases {
		h := NewRouter(Dependencies{Pipeline: &stubIngester{}, Extractor: &stubPacker{}, Fetcher: tc.fetcher})
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"file_url":"https://x/y.pdf"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("case %d: status = %d, want %d", i, rec.Code, tc.status)
		}
	}
}

func TestMeetingPack(t *testing.T) {
	conf := 0.91
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourceImage, Text: "Decision: Ship it", OCRUsed: true, OCRPages: 1, OCRConfidence: &conf}}
	packer := &stubPacker{}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: packer})

	body, ct := multipartBody(t, map[string]string{"meeting_title": "Weekly Sync"}, "board.jpg", []byte{0xff, 0xd8, 0xff})
	req := httptest.NewRequest(http.MethodPost, "/v1/meeting-pack", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if packer.title != "Weekly Sync" || packer.notes != "Decision: Ship it" {
		t.Fatalf("packer got title=%q notes=%q", packer.title, packer.notes)
	}
	out := decode(t, rec)
	if out["markdown"] != "# Weekly Sync" || out["source"] != "image" || out["ocr_confidence"] != 0.91 {
		t.Fatalf("pack response = %v", out)
	}
	if _, ok := out["text"]; ok {
		t.Fatal("meeting pack should not echo raw text")
	}
}

func TestMeetingPackNoText(t *testing.T) {
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourceImage, OCRUsed: true, OCRPages: 1}}
	packer := &stubPacker{}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: packer})
	body, ct := multipartBody(t, nil, "blank.png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/v1/meeting-pack", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if packer.notes != "" {
		t.Fatal("packer should not run without text")
	}
}

func TestRateLimit(t *testing.T) {
	ing := &stubIngester{res: ingest.Result{Source: ingest.SourceText, Text: "x"}}
	h := NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, Limiter: denyLimiter{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}

	// a broken limiter lets traffic through
	h = NewRouter(Dependencies{Pipeline: ing, Extractor: &stubPacker{}, Limiter: denyLimiter{err: errors.New("redis down")}})
	req = httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fail-open status = %d", rec.Code)
	}
}

func TestUsageEndpoints(t *testing.T) {
	store := &memUsage{events: []usage.Event{
		{TenantID: "acme", UserID: "u1", OCRPages: 2},
		{TenantID: "acme", UserID: "u2"},
		{TenantID: "other", UserID: "u1", OCRPages: 5},
	}}
	h := NewRouter(Dependencies{Pipeline: &stubIngester{}, Extractor: &stubPacker{}, Usage: store})

	req := httptest.NewRequest(http.MethodGet, "/v1/usage/summary", nil)
	req.Header.Set(HeaderTenantID, "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := decode(t, rec)
	if rec.Code != http.StatusOK || out["total_requests"] != float64(2) || out["total_ocr_pages"] != float64(2) {
		t.Fatalf("summary = %d %v", rec.Code, out)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/usage/events?user_id=u1&limit=5", nil)
	req.Header.Set(HeaderTenantID, "acme")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out = decode(t, rec)
	events, _ := out["events"].([]any)
	if rec.Code != http.StatusOK || len(events) != 1 || out["tenant_id"] != "acme" {
		t.Fatalf("events = %d %v", rec.Code, out)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/usage/events?limit=abc", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

func TestUsageDisabled(t *testing.T) {
	h := NewRouter(Dependencies{Pipeline: &stubIngester{}, Extractor: &stubPacker{}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage/summary", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
