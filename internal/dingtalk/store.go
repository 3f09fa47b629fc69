package dingtalk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides CRUD for robot configurations and append/list for the
// audit log. It exclusively owns config persistence and cache coherence.
type Store struct {
	pool   *pgxpool.Pool
	cache  *configCache
	logger *slog.Logger
}

// NewStore creates a config store backed by the given pool.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		cache:  newConfigCache(),
		logger: log.With(slog.String("service", "dingtalk_store")),
	}
}

const configColumns = `id, name, app_key, app_secret, webhook_secret, is_active, created_at`

func scanConfig(row pgx.Row) (BotConfig, error) {
	var cfg BotConfig
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.AppKey, &cfg.AppSecret,
		&cfg.WebhookSecret, &cfg.Active, &cfg.CreatedAt)
	return cfg, err
}

// Create persists a new robot configuration and primes the cache.
func (s *Store) Create(ctx context.Context, input CreateConfigInput) (BotConfig, error) {
	if s.pool == nil {
		return BotConfig{}, fmt.Errorf("config pool not configured")
	}
	if strings.TrimSpace(input.Name) == "" {
		return BotConfig{}, fmt.Errorf("config name is required")
	}

	id := uuid.NewString()
	gen := s.cache.gen(id)
	const q = `
INSERT INTO dingtalk_configs (id, name, app_key, app_secret, webhook_secret, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + configColumns
	cfg, err := scanConfig(s.pool.QueryRow(ctx, q,
		id, input.Name, input.AppKey, input.AppSecret, input.WebhookSecret, input.Active))
	if err != nil {
		return BotConfig{}, fmt.Errorf("insert config: %w", err)
	}
	s.cache.put(cfg, gen)
	return cfg, nil
}

// Get returns the config by id, serving from cache when possible.
// The returned config carries real secrets; callers exposing it over
// the API must mask it.
func (s *Store) Get(ctx context.Context, id string) (BotConfig, error) {
	if s.pool == nil {
		return BotConfig{}, fmt.Errorf("config pool not configured")
	}
	if cfg, ok := s.cache.get(id); ok {
		return cfg, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return BotConfig{}, ErrConfigNotFound
	}

	gen := s.cache.gen(id)
	const q = `SELECT ` + configColumns + ` FROM dingtalk_configs WHERE id = $1`
	cfg, err := scanConfig(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BotConfig{}, ErrConfigNotFound
		}
		return BotConfig{}, fmt.Errorf("get config: %w", err)
	}
	s.cache.put(cfg, gen)
	return cfg, nil
}

// GetActive returns the first active config. Tie-break across multiple
// active configs is stable (oldest first) but otherwise unspecified;
// callers needing determinism address a config by id.
func (s *Store) GetActive(ctx context.Context) (BotConfig, error) {
	if s.pool == nil {
		return BotConfig{}, fmt.Errorf("config pool not configured")
	}
	const q = `
SELECT ` + configColumns + `
FROM dingtalk_configs
WHERE is_active
ORDER BY created_at, id
LIMIT 1`
	cfg, err := scanConfig(s.pool.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BotConfig{}, ErrConfigNotFound
		}
		return BotConfig{}, fmt.Errorf("get active config: %w", err)
	}
	return cfg, nil
}

// ListMasked returns all configs with secret fields masked.
func (s *Store) ListMasked(ctx context.Context) ([]BotConfig, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("config pool not configured")
	}
	const q = `SELECT ` + configColumns + ` FROM dingtalk_configs ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var items []BotConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		items = append(items, cfg.Masked())
	}
	return items, rows.Err()
}

// buildConfigUpdate assembles the SET clauses for a partial update.
// Secret fields carrying the masking placeholder produce no clause, so
// a client echoing back a masked read never clobbers a stored secret.
func buildConfigUpdate(input UpdateConfigInput) (sets []string, args []any) {
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if input.Name != nil {
		add("name", *input.Name)
	}
	if input.AppKey != nil && *input.AppKey != SecretPlaceholder {
		add("app_key", *input.AppKey)
	}
	if input.AppSecret != nil && *input.AppSecret != SecretPlaceholder {
		add("app_secret", *input.AppSecret)
	}
	if input.WebhookSecret != nil && *input.WebhookSecret != SecretPlaceholder {
		add("webhook_secret", *input.WebhookSecret)
	}
	if input.Active != nil {
		add("is_active", *input.Active)
	}
	return sets, args
}

// Update applies a partial update and invalidates the cache entry.
// Returns false when nothing was updated.
func (s *Store) Update(ctx context.Context, id string, input UpdateConfigInput) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("config pool not configured")
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	sets, args := buildConfigUpdate(input)
	if len(sets) == 0 {
		return false, nil
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE dingtalk_configs SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, q, args...)
	s.cache.invalidate(id)
	if err != nil {
		return false, fmt.Errorf("update config: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a config. The cache entry is invalidated before the
// backing delete so a concurrent read cannot repopulate a stale hit
// after the row is gone.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("config pool not configured")
	}
	s.cache.invalidate(id)
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM dingtalk_configs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete config: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateLog appends one audit log entry. Entries are never updated.
func (s *Store) CreateLog(ctx context.Context, entry AuditLogEntry) error {
	if s.pool == nil {
		return fmt.Errorf("config pool not configured")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = "processed"
	}
	const q = `
INSERT INTO dingtalk_logs
    (id, config_id, message_type, sender_nick, sender_id, content, has_attachment, attachment_count, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.pool.Exec(ctx, q,
		entry.ID, entry.ConfigID, entry.MessageType, entry.SenderNick, entry.SenderID,
		entry.Content, entry.HasAttachment, entry.AttachmentCount, entry.Status); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListLogs returns recent audit log entries, newest first, optionally
// scoped to one config.
func (s *Store) ListLogs(ctx context.Context, configID string, limit int) ([]AuditLogEntry, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("config pool not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	const base = `
SELECT id, config_id, message_type, sender_nick, sender_id, content,
       has_attachment, attachment_count, status, created_at
FROM dingtalk_logs`
	if configID != "" {
		rows, err = s.pool.Query(ctx, base+` WHERE config_id = $1 ORDER BY created_at DESC LIMIT $2`, configID, limit)
	} else {
		rows, err = s.pool.Query(ctx, base+` ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0, limit)
	for rows.Next() {
		var entry AuditLogEntry
		if err := rows.Scan(&entry.ID, &entry.ConfigID, &entry.MessageType, &entry.SenderNick,
			&entry.SenderID, &entry.Content, &entry.HasAttachment, &entry.AttachmentCount,
			&entry.Status, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}
