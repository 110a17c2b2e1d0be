package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

// Reader counts pages with pdfcpu and extracts per-page text with go-fitz.
// All work is in memory; nothing is written to disk.
type Reader struct{}

// NewReader creates a new in-memory PDF reader
func NewReader() *Reader {
	return &Reader{}
}

// PageCount returns the number of pages. pdfcpu is tried first since it only
// parses the cross reference table; MuPDF is the fallback for files pdfcpu
// rejects.
func (r *Reader) PageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err == nil {
		return n, nil
	}
	log.Debug().Err(err).Msg("pdfcpu page count failed, falling back to go-fitz")

	doc, ferr := fitz.NewFromMemory(data)
	if ferr != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// PageTexts extracts the embedded text of every page, trimmed. Pages that
// fail to extract are returned as "" so they are picked up for OCR.
func (r *Reader) PageTexts(data []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]string, doc.NumPage())
	for i := range pages {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("Failed to extract text from page")
			continue
		}
		pages[i] = strings.TrimSpace(text)
	}

	log.Debug().Int("pages", len(pages)).Msg("Extracted text from PDF")
	return pages, nil
}
