package ingest

// Source identifies which path produced the ingested text.
type Source string

const (
	SourceText  Source = "text"
	SourceImage Source = "image"
	SourcePDF   Source = "pdf"
)

// Request carries one ingestion. Text wins over File when both are set.
type Request struct {
	Text        string
	File        []byte
	Filename    string
	ContentType string
}

// Result is the normalized text of one ingestion plus OCR accounting.
// When OCRUsed is false, OCRPages is 0 and OCRConfidence is nil.
type Result struct {
	Source        Source   `json:"source"`
	Text          string   `json:"text"`
	OCRUsed       bool     `json:"ocr_used"`
	OCRPages      int      `json:"ocr_pages"`
	OCRConfidence *float64 `json:"ocr_confidence"`
}

// PDFReader extracts what the pipeline needs from PDF bytes without OCR.
type PDFReader interface {
	// PageCount returns the number of pages without extracting text.
	PageCount(data []byte) (int, error)
	// PageTexts returns the embedded text of every page, in page order.
	PageTexts(data []byte) ([]string, error)
}
