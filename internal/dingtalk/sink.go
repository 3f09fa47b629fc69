package dingtalk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InvoiceRecord describes a stored file handed to the invoice subsystem.
type InvoiceRecord struct {
	FileName     string
	OriginalName string
	StoredPath   string
	SizeBytes    int64
	SourceTag    string
}

// InvoiceCreator registers a stored file as an invoice record.
type InvoiceCreator interface {
	CreateInvoiceRecord(ctx context.Context, rec InvoiceRecord) (string, error)
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileSink persists attachment bytes under collision-resistant names
// and registers PDF files with the invoice subsystem.
type FileSink struct {
	dir      string
	invoices InvoiceCreator
	logger   *slog.Logger
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(log *slog.Logger, dir string, creator InvoiceCreator) *FileSink {
	if log == nil {
		log = slog.Default()
	}
	return &FileSink{
		dir:      dir,
		invoices: creator,
		logger:   log.With(slog.String("service", "file_sink")),
	}
}

// SanitizeFileName replaces every character outside [A-Za-z0-9._-] with
// an underscore.
func SanitizeFileName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// Save writes the bytes under a unique, sanitized name. The name carries
// a random token besides the timestamp so two attachments with the same
// original name arriving in the same clock tick cannot overwrite each
// other. PDF files (by extension, case-insensitive) are additionally
// registered as invoice records; the write completes before that call so
// an invoice never references a partial file.
func (s *FileSink) Save(ctx context.Context, data []byte, originalName, configID string) (StoredFile, error) {
	if originalName == "" {
		originalName = "invoice.pdf"
	}
	safeName := fmt.Sprintf("%d_%s_%s",
		time.Now().UnixMilli(), uniqueToken(), SanitizeFileName(originalName))

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return StoredFile{}, fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Join(s.dir, safeName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return StoredFile{}, fmt.Errorf("write file: %w", err)
	}

	stored := StoredFile{
		SafeFileName: safeName,
		Path:         path,
		SizeBytes:    int64(len(data)),
	}
	s.logger.Info("attachment stored",
		slog.String("file", safeName),
		slog.String("config_id", configID),
		slog.Int64("size", stored.SizeBytes))

	if strings.EqualFold(filepath.Ext(safeName), ".pdf") && s.invoices != nil {
		_, err := s.invoices.CreateInvoiceRecord(ctx, InvoiceRecord{
			FileName:     safeName,
			OriginalName: originalName,
			StoredPath:   path,
			SizeBytes:    stored.SizeBytes,
			SourceTag:    "chatbot",
		})
		if err != nil {
			return StoredFile{}, fmt.Errorf("register invoice: %w", err)
		}
	}
	return stored, nil
}

func uniqueToken() string {
	id := uuid.NewString()
	return id[:8]
}
