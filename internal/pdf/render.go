package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// DefaultDPI is the render resolution used for OCR input.
const DefaultDPI = 300

// RenderPagesPNG renders the given 1-based pages of a PDF to grayscale PNG
// images keyed by page number. Pages outside the document are skipped.
func RenderPagesPNG(data []byte, pages []int, dpi int) (map[int][]byte, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if len(pages) == 0 {
		pages = make([]int, doc.NumPage())
		for i := range pages {
			pages[i] = i + 1
		}
	}

	out := make(map[int][]byte, len(pages))
	for _, pageNum := range pages {
		if pageNum < 1 || pageNum > doc.NumPage() {
			log.Warn().Int("page", pageNum).Int("total", doc.NumPage()).Msg("page out of range, skipping render")
			continue
		}
		// go-fitz uses 0-based indexing
		img, err := doc.ImageDPI(pageNum-1, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", pageNum, err)
		}

		bounds := img.Bounds()
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, image.Point{}, draw.Src)

		var buf bytes.Buffer
		if err := png.Encode(&buf, gray); err != nil {
			return nil, fmt.Errorf("failed to encode PNG: %w", err)
		}
		out[pageNum] = buf.Bytes()

		log.Debug().
			Int("page", pageNum).
			Int("width", bounds.Dx()).
			Int("height", bounds.Dy()).
			Int("png_size", buf.Len()).
			Int("dpi", dpi).
			Msg("rendered page for OCR")
	}
	return out, nil
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
