package usage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"
)

// MaxListLimit caps List.
const MaxListLimit = 200

// Event is one row of the append-only usage log.
type Event struct {
	ID            int64     `json:"id"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	RequestID     string    `json:"request_id"`
	Endpoint      string    `json:"endpoint"`
	Source        string    `json:"source"`
	OCRUsed       bool      `json:"ocr_used"`
	OCRPages      int       `json:"ocr_pages"`
	TokenEstimate int       `json:"token_estimate"`
	DocDigest     string    `json:"doc_digest,omitempty"`
	CreatedAt     time.Time `json:"created_at_utc"`
}

// Costs holds the unit prices used to estimate spend.
type Costs struct {
	LLMPer1KTokens float64 `json:"LLM_COST_PER_1K_TOKENS_USD"`
	OCRPerPage     float64 `json:"OCR_COST_PER_PAGE_USD"`
}

// Summary aggregates a tenant's (optionally a user's) usage.
type Summary struct {
	TenantID           string `json:"tenant_id"`
	UserID             string `json:"user_id,omitempty"`
	TotalRequests      int    `json:"total_requests"`
	TotalOCRPages      int    `json:"total_ocr_pages"`
	TotalTokenEstimate int    `json:"total_token_estimate"`
	OCRRequests        int    `json:"ocr_requests"`
	NonOCRRequests     int    `json:"non_ocr_requests"`

	LLMCostUSD   float64 `json:"llm_cost_usd_est"`
	OCRCostUSD   float64 `json:"ocr_cost_usd_est"`
	TotalCostUSD float64 `json:"total_cost_usd_est"`

	Assumptions Costs `json:"assumptions"`
}

// Store persists usage events in SQLite.
type Store struct {
	db    *sql.DB
	costs Costs
	now   func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string, costs Costs) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create usage db dir: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := New(db, costs)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("usage store ready")
	return s, nil
}

// New wraps an existing handle. The schema is not touched.
func New(db *sql.DB, costs Costs) *Store {
	return &Store{db: db, costs: costs, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error { return s.db.Close() }

// Costs returns the configured unit prices.
func (s *Store) Costs() Costs { return s.costs }

const schema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	source TEXT NOT NULL,
	ocr_used INTEGER NOT NULL,
	ocr_pages INTEGER NOT NULL,
	token_estimate INTEGER NOT NULL,
	doc_digest TEXT NOT NULL DEFAULT '',
	created_at_utc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_tenant_user_time ON usage_events(tenant_id, user_id, created_at_utc);
`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate usage db: %w", err)
	}
	return nil
}

// Log appends ev and returns its id. A zero CreatedAt is set to now.
func (s *Store) Log(ctx context.Context, ev Event) (int64, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events
		(tenant_id, user_id, request_id, endpoint, source, ocr_used, ocr_pages, token_estimate, doc_digest, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TenantID, ev.UserID, ev.RequestID, ev.Endpoint, ev.Source,
		boolToInt(ev.OCRUsed), ev.OCRPages, ev.TokenEstimate, ev.DocDigest,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert usage event: %w", err)
	}
	return res.LastInsertId()
}

// List returns the newest events for tenantID, filtered by userID when set.
// limit is clamped to [1, MaxListLimit].
func (s *Store) List(ctx context.Context, tenantID, userID string, limit int) ([]Event, error) {
	limit = min(max(limit, 1), MaxListLimit)

	where, args := scope(tenantID, userID)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, request_id, endpoint, source,
		       ocr_used, ocr_pages, token_estimate, doc_digest, created_at_utc
		FROM usage_events
		WHERE `+where+`
		ORDER BY id DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev      Event
			ocrUsed int
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.UserID, &ev.RequestID, &ev.Endpoint, &ev.Source,
			&ocrUsed, &ev.OCRPages, &ev.TokenEstimate, &ev.DocDigest, &created); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		ev.OCRUsed = ocrUsed != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// OCRSplit counts requests that did and did not use OCR.
func (s *Store) OCRSplit(ctx context.Context, tenantID, userID string) (ocrRequests, nonOCRRequests int, err error) {
	where, args := scope(tenantID, userID)
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN ocr_used = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ocr_used = 0 THEN 1 ELSE 0 END), 0)
		FROM usage_events
		WHERE `+where, args...)
	if err := row.Scan(&ocrRequests, &nonOCRRequests); err != nil {
		return 0, 0, fmt.Errorf("count ocr split: %w", err)
	}
	return ocrRequests, nonOCRRequests, nil
}

// Summary totals requests, OCR pages and token estimates and prices them.
func (s *Store) Summary(ctx context.Context, tenantID, userID string) (Summary, error) {
	where, args := scope(tenantID, userID)
	out := Summary{TenantID: tenantID, UserID: userID, Assumptions: s.costs}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(ocr_pages), 0),
			COALESCE(SUM(token_estimate), 0)
		FROM usage_events
		WHERE `+where, args...)
	if err := row.Scan(&out.TotalRequests, &out.TotalOCRPages, &out.TotalTokenEstimate); err != nil {
		return Summary{}, fmt.Errorf("summarize usage: %w", err)
	}

	ocrReq, nonOCR, err := s.OCRSplit(ctx, tenantID, userID)
	if err != nil {
		return Summary{}, err
	}
	out.OCRRequests, out.NonOCRRequests = ocrReq, nonOCR

	llm := float64(out.TotalTokenEstimate) / 1000.0 * s.costs.LLMPer1KTokens
	ocr := float64(out.TotalOCRPages) * s.costs.OCRPerPage
	out.LLMCostUSD = round6(llm)
	out.OCRCostUSD = round6(ocr)
	out.TotalCostUSD = round6(llm + ocr)
	return out, nil
}

func scope(tenantID, userID string) (string, []any) {
	if userID == "" {
		return "tenant_id = ?", []any{tenantID}
	}
	return "tenant_id = ? AND user_id = ?", []any{tenantID, userID}
}

// EstimateTokens is a rough input-size heuristic: four bytes per token.
func EstimateTokens(text string) int { return len(text) / 4 }

// Digest returns the hex BLAKE2b-256 of a submitted document so repeated
// uploads can be spotted in the log without storing content.
func Digest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
