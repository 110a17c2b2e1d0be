package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/filetype"
	"github.com/local/notesingest/internal/ocr"
)

// DefaultMaxPDFPages applies when Options.MaxPDFPages is not set.
const DefaultMaxPDFPages = 20

// Options configures a Pipeline.
type Options struct {
	OCR ocr.Gateway
	PDF PDFReader

	MaxPDFPages  int
	MinPageChars int

	// Classifier overrides the page selection heuristic. It receives the
	// locally extracted page texts and returns 1-based page numbers to OCR.
	Classifier func(pages []string) []int
}

// Pipeline turns text, image or PDF input into normalized text, calling the
// OCR gateway at most once per request. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	ocr      ocr.Gateway
	pdf      PDFReader
	maxPages int
	classify func(pages []string) []int
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.OCR == nil {
		return nil, errors.New("ingest: OCR gateway is required")
	}
	if opts.PDF == nil {
		return nil, errors.New("ingest: PDF reader is required")
	}
	if opts.MaxPDFPages <= 0 {
		opts.MaxPDFPages = DefaultMaxPDFPages
	}
	classify := opts.Classifier
	if classify == nil {
		minChars := opts.MinPageChars
		classify = func(pages []string) []int { return PagesNeedingOCR(pages, minChars) }
	}
	return &Pipeline{
		ocr:      opts.OCR,
		pdf:      opts.PDF,
		maxPages: opts.MaxPDFPages,
		classify: classify,
	}, nil
}

// MaxPDFPages reports the configured page ceiling.
func (p *Pipeline) MaxPDFPages() int { return p.maxPages }

// Ingest routes req by priority: non-blank text, then image, then PDF.
// Errors match one of ErrInvalidInput, ErrPageLimitExceeded,
// ErrUnsupportedFileType or ErrOCRBackend.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	if text := strings.TrimSpace(req.Text); text != "" {
		return Result{Source: SourceText, Text: text}, nil
	}
	if len(req.File) == 0 {
		return Result{}, invalidInput("provide either text or a file")
	}

	switch filetype.Classify(req.Filename, req.ContentType) {
	case filetype.KindImage:
		return p.ingestImage(ctx, req)
	case filetype.KindPDF:
		return p.ingestPDF(ctx, req)
	default:
		return Result{}, &UnsupportedFileTypeError{Filename: req.Filename, ContentType: req.ContentType}
	}
}

func (p *Pipeline) ingestImage(ctx context.Context, req Request) (Result, error) {
	res, err := p.ocr.Recognize(ctx, req.File, "")
	if err != nil {
		return Result{}, &OCRError{Err: err}
	}

	// Every page is kept, empty ones included; only the joined text is trimmed.
	parts := make([]string, 0, len(res.Pages))
	for _, n := range res.Pages.Pages() {
		parts = append(parts, res.Pages[n])
	}

	out := Result{
		Source:        SourceImage,
		Text:          strings.TrimSpace(strings.Join(parts, "\n\n")),
		OCRUsed:       true,
		OCRPages:      len(res.Pages),
		OCRConfidence: res.AvgConfidence,
	}
	log.Ctx(ctx).Info().
		Str("source", string(out.Source)).
		Str("backend", p.ocr.Name()).
		Int("ocr_pages", out.OCRPages).
		Int("chars", len(out.Text)).
		Msg("image ingested")
	return out, nil
}

func (p *Pipeline) ingestPDF(ctx context.Context, req Request) (Result, error) {
	total, err := p.pdf.PageCount(req.File)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read PDF: %v", ErrInvalidInput, err)
	}
	if total > p.maxPages {
		return Result{}, &PageLimitError{Pages: total, Max: p.maxPages}
	}

	local, err := p.pdf.PageTexts(req.File)
	if err != nil {
		return Result{}, fmt.Errorf("%w: extract PDF text: %v", ErrInvalidInput, err)
	}

	needed := documentPages(p.classify(local), len(local))
	logger := log.Ctx(ctx)
	logger.Debug().Int("pages", len(local)).Ints("ocr_pages", needed).Msg("classified PDF pages")

	if len(needed) == 0 {
		out := Result{Source: SourcePDF, Text: joinPages(local)}
		logger.Info().
			Str("source", string(out.Source)).
			Int("pages", len(local)).
			Int("chars", len(out.Text)).
			Msg("digital PDF ingested")
		return out, nil
	}

	pageRange := CompressPages(needed)
	res, err := p.ocr.Recognize(ctx, req.File, pageRange)
	if err != nil {
		return Result{}, &OCRError{PageRange: pageRange, Err: err}
	}

	ocrSet := make(map[int]struct{}, len(needed))
	for _, n := range needed {
		ocrSet[n] = struct{}{}
	}
	merged := make([]string, len(local))
	for i := range local {
		page := i + 1
		if _, ok := ocrSet[page]; ok {
			merged[i] = res.Pages[page]
			continue
		}
		merged[i] = local[i]
	}

	out := Result{
		Source:        SourcePDF,
		Text:          joinPages(merged),
		OCRUsed:       true,
		OCRPages:      len(needed),
		OCRConfidence: res.AvgConfidence,
	}
	logger.Info().
		Str("source", string(out.Source)).
		Str("backend", p.ocr.Name()).
		Int("pages", len(local)).
		Str("ocr_range", pageRange).
		Int("ocr_pages", out.OCRPages).
		Int("chars", len(out.Text)).
		Msg("PDF ingested with OCR")
	return out, nil
}

// documentPages drops classifier output outside 1..total and returns the
// remaining pages ascending and without duplicates.
func documentPages(pages []int, total int) []int {
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, n := range pages {
		if n < 1 || n > total {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// joinPages keeps non-empty pages in order, separated by a blank line.
func joinPages(pages []string) string {
	var b strings.Builder
	for _, t := range pages {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return b.String()
}
