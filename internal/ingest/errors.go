package ingest

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Pipeline.Ingest matches exactly one
// of these with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPageLimitExceeded   = errors.New("page limit exceeded")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrOCRBackend          = errors.New("ocr backend failure")
)

// PageLimitError reports a PDF whose page count is above the configured maximum.
type PageLimitError struct {
	Pages int
	Max   int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("PDF has %d pages; max allowed is %d", e.Pages, e.Max)
}

func (e *PageLimitError) Unwrap() error { return ErrPageLimitExceeded }

// UnsupportedFileTypeError names the rejected upload.
type UnsupportedFileTypeError struct {
	Filename    string
	ContentType string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("Unsupported file type: %s (%s)", e.Filename, e.ContentType)
}

func (e *UnsupportedFileTypeError) Unwrap() error { return ErrUnsupportedFileType }

// OCRError wraps a failure of the OCR gateway. Both ErrOCRBackend and the
// backend's own error are reachable through errors.Is / errors.As.
type OCRError struct {
	PageRange string
	Err       error
}

func (e *OCRError) Error() string {
	if e.PageRange == "" {
		return fmt.Sprintf("ocr failed: %v", e.Err)
	}
	return fmt.Sprintf("ocr failed for pages %s: %v", e.PageRange, e.Err)
}

func (e *OCRError) Unwrap() []error { return []error{ErrOCRBackend, e.Err} }

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// Kind returns a stable name for the error kind of err, or "internal" when
// err does not belong to the pipeline.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrPageLimitExceeded):
		return "page_limit_exceeded"
	case errors.Is(err, ErrUnsupportedFileType):
		return "unsupported_file_type"
	case errors.Is(err, ErrOCRBackend):
		return "ocr_backend_failure"
	default:
		return "internal"
	}
}
