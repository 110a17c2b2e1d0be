package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog/log"

	"github.com/local/notesingest/internal/pdf"
)

// TesseractOptions configures the local OCR backend.
type TesseractOptions struct {
	Languages []string
	DPI       int
}

// Tesseract runs OCR locally. Images are recognized as a single page; PDFs
// are rendered page by page with MuPDF, honoring the requested range.
type Tesseract struct {
	languages     []string
	dpi           int
	clientFactory func() *gosseract.Client
}

func NewTesseract(opts TesseractOptions) *Tesseract {
	if opts.DPI <= 0 {
		opts.DPI = pdf.DefaultDPI
	}
	return &Tesseract{languages: opts.Languages, dpi: opts.DPI, clientFactory: gosseract.NewClient}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(ctx context.Context, data []byte, pageRange string) (Result, error) {
	images := map[int][]byte{1: data}
	if pdf.IsPDF(data) {
		pages, err := ParsePageRange(pageRange)
		if err != nil {
			return Result{}, err
		}
		images, err = pdf.RenderPagesPNG(data, pages, t.dpi)
		if err != nil {
			return Result{}, err
		}
	}

	out := Result{Pages: make(PageText, len(images))}
	var scores []float64
	for page, img := range images {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		text, pageScores, err := t.recognizeImage(img)
		if err != nil {
			return Result{}, fmt.Errorf("recognize page %d: %w", page, err)
		}
		out.Pages[page] = text
		scores = append(scores, pageScores...)
	}
	out.AvgConfidence = AverageConfidence(scores)

	log.Debug().Str("pages", pageRange).Int("recognized", len(out.Pages)).Msg("tesseract OCR done")
	return out, nil
}

func (t *Tesseract) recognizeImage(img []byte) (string, []float64, error) {
	c := t.clientFactory()
	defer c.Close()

	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			return "", nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return "", nil, fmt.Errorf("set image: %w", err)
	}
	if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(t.dpi)); err != nil {
		return "", nil, fmt.Errorf("set dpi: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", nil, fmt.Errorf("recognize text: %w", err)
	}

	// Tesseract reports word confidence on a 0-100 scale.
	var scores []float64
	if boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD); err == nil {
		for _, b := range boxes {
			scores = append(scores, b.Confidence/100.0)
		}
	}
	return strings.TrimSpace(text), scores, nil
}
