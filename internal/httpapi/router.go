package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/fetch"
	"github.com/local/notesingest/internal/filetype"
	"github.com/local/notesingest/internal/ingest"
	"github.com/local/notesingest/internal/limiter"
	"github.com/local/notesingest/internal/logger"
	"github.com/local/notesingest/internal/meeting"
	"github.com/local/notesingest/internal/metrics"
	"github.com/local/notesingest/internal/usage"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderTenantID  = "X-Tenant-Id"
	HeaderUserID    = "X-User-Id"

	defaultTenant = "default"
	defaultUser   = "anonymous"
)

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

type Packer interface {
	Pack(ctx context.Context, notes, title string) meeting.Pack
}

type UsageStore interface {
	Log(ctx context.Context, ev usage.Event) (int64, error)
	List(ctx context.Context, tenantID, userID string, limit int) ([]usage.Event, error)
	Summary(ctx context.Context, tenantID, userID string) (usage.Summary, error)
}

type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Document, error)
}

// Dependencies wires the API to its services. Limiter and Fetcher are
// optional.
type Dependencies struct {
	Pipeline       Ingester
	Extractor      Packer
	Usage          UsageStore
	Limiter        limiter.Limiter
	Fetcher        DocumentFetcher
	Detector       *filetype.Detector
	MaxUploadBytes int64
	Metrics        http.Handler
}

type Server struct {
	deps Dependencies
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 15 << 20
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestContext)
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/ingest", s.handleIngest)
		r.With(s.rateLimit).Post("/meeting-pack", s.handleMeetingPack)
		r.Get("/usage/summary", s.handleUsageSummary)
		r.Get("/usage/events", s.handleUsageEvents)
	})
	return r
}

type identityKey struct{}

type identity struct {
	RequestID string
	TenantID  string
	UserID    string
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

// requestContext assigns a request id and resolves the tenant and user from
// headers, then attaches a tagged logger to the context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{
			RequestID: strings.TrimSpace(r.Header.Get(HeaderRequestID)),
			TenantID:  strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
		}
		if id.RequestID == "" {
			id.RequestID = uuid.New().String()
		}
		if id.TenantID == "" {
			id.TenantID = defaultTenant
		}
		if id.UserID == "" {
			id.UserID = defaultUser
		}
		w.Header().Set(HeaderRequestID, id.RequestID)

		ctx := context.WithValue(r.Context(), identityKey{}, id)
		ctx = logger.WithRequest(ctx, id.RequestID, id.TenantID, id.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

// rateLimit rejects tenants over their quota. A limiter error lets the
// request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		tenant := identityFrom(r.Context()).TenantID
		ok, err := s.deps.Limiter.Allow(r.Context(), tenant)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			metrics.IncRateLimited()
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests for tenant "+tenant)
			return
		}
		next.ServeHTTP(w, r)
	})
}
