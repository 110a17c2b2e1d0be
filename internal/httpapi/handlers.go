package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/fetch"
	"github.com/local/notesingest/internal/filetype"
	"github.com/local/notesingest/internal/ingest"
	"github.com/local/notesingest/internal/meeting"
	"github.com/local/notesingest/internal/metrics"
	"github.com/local/notesingest/internal/usage"
)

// apiError is a request failure that maps directly to an HTTP status.
type apiError struct {
	Status int
	Kind   string
	Msg    string
}

func (e *apiError) Error() string { return e.Msg }

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

type ingestResponse struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	ingest.Result
	TokenEstimate int `json:"token_estimate"`
}

type meetingPackResponse struct {
	TenantID      string   `json:"tenant_id"`
	UserID        string   `json:"user_id"`
	RequestID     string   `json:"request_id"`
	Source        string   `json:"source"`
	OCRUsed       bool     `json:"ocr_used"`
	OCRPages      int      `json:"ocr_pages"`
	OCRConfidence *float64 `json:"ocr_confidence"`
	meeting.Pack
}

type jsonSubmission struct {
	Text         string `json:"text"`
	MeetingTitle string `json:"meeting_title"`
	FileURL      string `json:"file_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, _, err := s.readSubmission(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, ok := s.runIngest(w, r, req)
	if !ok {
		return
	}
	id := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, ingestResponse{
		TenantID:      id.TenantID,
		UserID:        id.UserID,
		RequestID:     id.RequestID,
		Result:        res,
		TokenEstimate: usage.EstimateTokens(res.Text),
	})
}

func (s *Server) handleMeetingPack(w http.ResponseWriter, r *http.Request) {
	req, title, err := s.readSubmission(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, ok := s.runIngest(w, r, req)
	if !ok {
		return
	}
	if res.Text == "" {
		s.fail(w, r, &apiError{Status: http.StatusUnprocessableEntity, Kind: "no_text_extracted", Msg: "no text could be extracted from the submission"})
		return
	}

	pack := s.deps.Extractor.Pack(r.Context(), res.Text, title)
	id := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, meetingPackResponse{
		TenantID:      id.TenantID,
		UserID:        id.UserID,
		RequestID:     id.RequestID,
		Source:        string(res.Source),
		OCRUsed:       res.OCRUsed,
		OCRPages:      res.OCRPages,
		OCRConfidence: res.OCRConfidence,
		Pack:          pack,
	})
}

// runIngest ingests req, records metrics and usage, and writes the error
// response itself when ingestion fails.
func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, req ingest.Request) (ingest.Result, bool) {
	ctx := r.Context()
	res, err := s.deps.Pipeline.Ingest(ctx, req)
	if err != nil {
		metrics.ObserveIngest(sourceLabel(req), ingest.Kind(err), false, 0)
		s.fail(w, r, err)
		return ingest.Result{}, false
	}
	metrics.ObserveIngest(string(res.Source), "ok", res.OCRUsed, res.OCRPages)

	if s.deps.Usage != nil {
		id := identityFrom(ctx)
		_, err := s.deps.Usage.Log(ctx, usage.Event{
			TenantID:      id.TenantID,
			UserID:        id.UserID,
			RequestID:     id.RequestID,
			Endpoint:      r.URL.Path,
			Source:        string(res.Source),
			OCRUsed:       res.OCRUsed,
			OCRPages:      res.OCRPages,
			TokenEstimate: usage.EstimateTokens(res.Text),
			DocDigest:     usage.Digest(req.File),
		})
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to record usage event")
		}
	}
	return res, true
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.fail(w, r, &apiError{Status: http.StatusServiceUnavailable, Kind: "usage_disabled", Msg: "usage store is not configured"})
		return
	}
	id := identityFrom(r.Context())
	sum, err := s.deps.Usage.Summary(r.Context(), id.TenantID, r.URL.Query().Get("user_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleUsageEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.fail(w, r, &apiError{Status: http.StatusServiceUnavailable, Kind: "usage_disabled", Msg: "usage store is not configured"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: "limit must be an integer"})
			return
		}
		limit = n
	}
	id := identityFrom(r.Context())
	events, err := s.deps.Usage.List(r.Context(), id.TenantID, r.URL.Query().Get("user_id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": id.TenantID, "events": events})
}

// readSubmission accepts multipart/form-data (text, meeting_title, file,
// file_url) or a JSON body (text, meeting_title, file_url).
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (ingest.Request, string, error) {
	max := s.deps.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, max+1<<20)

	var (
		req     ingest.Request
		title   string
		fileURL string
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body jsonSubmission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			if tooLarge(err) {
				return req, "", errUploadTooLarge(max)
			}
			return req, "", &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: "invalid json body"}
		}
		req.Text, title, fileURL = body.Text, body.MeetingTitle, body.FileURL
	case "multipart/form-data", "application/x-www-form-urlencoded":
		if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			if tooLarge(err) {
				return req, "", errUploadTooLarge(max)
			}
			return req, "", &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: "invalid form body"}
		}
		req.Text = r.FormValue("text")
		title = r.FormValue("meeting_title")
		fileURL = r.FormValue("file_url")

		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		case err != nil:
			return req, "", &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: "invalid file part"}
		default:
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, max+1))
			if err != nil {
				return req, "", &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: "failed to read upload"}
			}
			if int64(len(data)) > max {
				return req, "", errUploadTooLarge(max)
			}
			req.File = data
			req.Filename = header.Filename
			req.ContentType = header.Header.Get("Content-Type")
		}
	default:
		return req, "", &apiError{Status: http.StatusUnsupportedMediaType, Kind: "invalid_input", Msg: "expected multipart/form-data or application/json"}
	}

	if strings.TrimSpace(req.Text) == "" && len(req.File) == 0 && fileURL != "" {
		doc, err := s.fetchDocument(r, fileURL)
		if err != nil {
			return req, "", err
		}
		req.File, req.Filename, req.ContentType = doc.Data, doc.Filename, doc.ContentType
	}
	if len(req.File) > 0 {
		req.ContentType = s.deps.Detector.ContentType(req.ContentType, req.File)
	}
	return req, title, nil
}

func (s *Server) fetchDocument(r *http.Request, fileURL string) (fetch.Document, error) {
	if s.deps.Fetcher == nil {
		return fetch.Document{}, &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: "file_url is not supported"}
	}
	doc, err := s.deps.Fetcher.Fetch(r.Context(), fileURL)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, fetch.ErrTooLarge):
		return doc, errUploadTooLarge(s.deps.MaxUploadBytes)
	case errors.Is(err, fetch.ErrUnsupportedScheme), errors.Is(err, fetch.ErrHostNotAllowed):
		return doc, &apiError{Status: http.StatusBadRequest, Kind: "invalid_input", Msg: err.Error()}
	default:
		log.Ctx(r.Context()).Warn().Err(err).Str("file_url", fileURL).Msg("failed to fetch document")
		return doc, &apiError{Status: http.StatusBadGateway, Kind: "fetch_failed", Msg: "failed to fetch file_url"}
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func errUploadTooLarge(max int64) error {
	return &apiError{Status: http.StatusRequestEntityTooLarge, Kind: "upload_too_large", Msg: fmt.Sprintf("upload exceeds %d bytes", max)}
}

func sourceLabel(req ingest.Request) string {
	if strings.TrimSpace(req.Text) != "" {
		return string(ingest.SourceText)
	}
	if len(req.File) == 0 {
		return "none"
	}
	return filetype.Classify(req.Filename, req.ContentType).String()
}

// statusFor maps pipeline error kinds to HTTP statuses.
func statusFor(err error) (int, string) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status, ae.Kind
	}
	kind := ingest.Kind(err)
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest, kind
	case "page_limit_exceeded":
		return http.StatusRequestEntityTooLarge, kind
	case "unsupported_file_type":
		return http.StatusUnsupportedMediaType, kind
	case "ocr_backend_failure":
		return http.StatusBadGateway, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Str("kind", kind).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		log.Ctx(r.Context()).Info().Str("kind", kind).Int("status", status).Msg(msg)
	}
	writeError(w, r, status, kind, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = msg
	body.RequestID = identityFrom(r.Context()).RequestID
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
