package ocr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageText maps 1-based page numbers to recognized text.
type PageText map[int]string

// Pages returns the page numbers present, ascending.
func (p PageText) Pages() []int {
	out := make([]int, 0, len(p))
	for n := range p {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Result is what a backend returns for one call.
type Result struct {
	Pages PageText
	// AvgConfidence is nil when the backend reports no word confidences.
	AvgConfidence *float64
}

// Gateway recognizes text in an image or PDF. An empty pageRange means the
// whole document; otherwise it is a range string such as "1-3,5".
type Gateway interface {
	Name() string
	Recognize(ctx context.Context, data []byte, pageRange string) (Result, error)
}

var ErrRateLimited = errors.New("rate_limited")

// HTTPError represents a non-2xx answer from a remote OCR service.
type HTTPError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// AverageConfidence returns the mean of scores, or nil for an empty slice.
func AverageConfidence(scores []float64) *float64 {
	if len(scores) == 0 {
		return nil
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))
	return &avg
}

// ParsePageRange expands "1-3,5" into [1 2 3 5]. Backends that cannot pass
// the range to a remote service use it to pick pages locally.
func ParsePageRange(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	seen := map[int]struct{}{}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid page range %q: %w", s, err)
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid page range %q: %w", s, err)
		}
		if a < 1 || b < a {
			return nil, fmt.Errorf("invalid page range %q", s)
		}
		for p := a; p <= b; p++ {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out, nil
}
