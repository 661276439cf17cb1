package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Uploader stores a rendered export and returns a download URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Service renders post exports.
type Service struct {
	pdf     PDFRenderer
	uploads Uploader
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates an export service. uploads may be nil, in which case
// results are returned inline only.
func NewService(pdf PDFRenderer, uploads Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pdf: pdf, uploads: uploads, log: logger.With("component", "export"), now: time.Now}
}

// Export renders doc to PDF and uploads it when storage is configured.
func (s *Service) Export(ctx context.Context, doc Document) (*Result, error) {
	if len(doc.Chunks) == 0 {
		return nil, ErrContentUnavailable
	}

	html, err := RenderHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	data, err := s.pdf.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data:     data,
		Filename: sanitizeFilename(doc.Title) + ".pdf",
		MimeType: "application/pdf",
	}
	s.log.Info("export rendered", "post_id", doc.PostID, "size", humanize.Bytes(uint64(len(data))))

	if s.uploads != nil {
		key := fmt.Sprintf("%s/%d-%s", strings.ToLower(doc.PostID), s.now().Unix(), result.Filename)
		link, err := s.uploads.Upload(ctx, key, data, result.MimeType)
		if err != nil {
			return nil, err
		}
		result.URL = link
	}
	return result, nil
}
