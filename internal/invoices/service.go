package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Invoice is a stored invoice record created from an ingested file.
type Invoice struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	OriginalName string    `json:"original_name"`
	FilePath     string    `json:"file_path"`
	FileSize     int64     `json:"file_size"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateInvoiceInput describes a file to register as an invoice.
type CreateInvoiceInput struct {
	FileName     string
	OriginalName string
	FilePath     string
	FileSize     int64
	Source       string
}

// Service provides invoice record persistence. Content extraction (OCR,
// parsing) happens elsewhere; this service only registers the record.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates an invoice service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "invoices")),
	}
}

// Create registers a new invoice record and returns its id.
func (s *Service) Create(ctx context.Context, input CreateInvoiceInput) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("invoice pool not configured")
	}
	if strings.TrimSpace(input.FileName) == "" {
		return "", fmt.Errorf("file name is required")
	}
	if strings.TrimSpace(input.FilePath) == "" {
		return "", fmt.Errorf("file path is required")
	}

	id := uuid.NewString()
	const q = `
INSERT INTO invoices (id, file_name, original_name, file_path, file_size, source)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q,
		id, input.FileName, input.OriginalName, input.FilePath, input.FileSize, input.Source,
	); err != nil {
		return "", fmt.Errorf("insert invoice: %w", err)
	}
	s.logger.Info("invoice record created",
		slog.String("id", id),
		slog.String("file_name", input.FileName),
		slog.String("source", input.Source))
	return id, nil
}

// List returns the most recent invoice records, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Invoice, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("invoice pool not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, file_name, original_name, file_path, file_size, source, created_at
FROM invoices
ORDER BY created_at DESC
LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	items := make([]Invoice, 0, limit)
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.FileName, &inv.OriginalName, &inv.FilePath,
			&inv.FileSize, &inv.Source, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}
