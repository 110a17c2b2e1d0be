package filetype

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind is the ingestion route for an uploaded file.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// Classify routes a file by its declared content type and filename.
// Images are checked before PDFs. Matching is case-insensitive and ignores
// content type parameters.
func Classify(filename, contentType string) Kind {
	ct := MediaType(contentType)
	ext := strings.ToLower(filepath.Ext(filename))

	if strings.HasPrefix(ct, "image/") {
		return KindImage
	}
	if _, ok := imageExtensions[ext]; ok {
		return KindImage
	}
	if ct == "application/pdf" || ext == ".pdf" {
		return KindPDF
	}
	return KindUnsupported
}

// MediaType lowercases a content type and drops any parameters.
func MediaType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// Detector fills in content types from magic bytes for uploads that arrive
// without a useful one.
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Sniff returns the MIME type detected from the leading bytes of data.
func (d *Detector) Sniff(data []byte) string {
	mtype := mimetype.Detect(data)
	log.Debug().Str("mime", mtype.String()).Str("ext", mtype.Extension()).Msg("detected file type")
	return MediaType(mtype.String())
}

// ContentType returns declared unless it is empty or generic, in which case
// the sniffed type is used.
func (d *Detector) ContentType(declared string, data []byte) string {
	switch MediaType(declared) {
	case "", "application/octet-stream", "binary/octet-stream":
		if len(data) == 0 {
			return declared
		}
		sniffed := d.Sniff(data)
		if sniffed != MediaType(declared) {
			log.Debug().Str("declared", declared).Str("override", sniffed).Msg("overriding generic content type")
		}
		return sniffed
	default:
		return declared
	}
}
