package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// Store is the persistence contract behind the memory manager. The raw
// event log is append-only; namespace records and checkpoints are written
// by the external extraction process and only read here.
type Store interface {
	InsertEvent(ctx context.Context, event contractx.MemoryEvent) error
	QueryRecords(ctx context.Context, customerID string, ns contractx.Namespace, search string, limit int) ([]contractx.MemoryRecord, error)
	Checkpoint(ctx context.Context, customerID string) (time.Time, error)
}

type eventRow struct {
	bun.BaseModel `bun:"table:memory_events"`

	ID         int64     `bun:"id,pk,autoincrement"`
	CustomerID string    `bun:"customer_id,notnull"`
	SessionID  string    `bun:"session_id"`
	Role       string    `bun:"role"`
	Content    string    `bun:"content,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type recordRow struct {
	bun.BaseModel `bun:"table:memory_records"`

	ID         int64     `bun:"id,pk,autoincrement"`
	CustomerID string    `bun:"customer_id,notnull"`
	Namespace  string    `bun:"namespace,notnull"`
	Content    string    `bun:"content,notnull"`
	Relevance  float64   `bun:"relevance"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type checkpointRow struct {
	bun.BaseModel `bun:"table:memory_checkpoints"`

	CustomerID       string    `bun:"customer_id,pk"`
	ProcessedThrough time.Time `bun:"processed_through,notnull"`
}

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

// PostgresStore persists the event log and serves namespace views from
// Postgres through bun.
type PostgresStore struct {
	db      *bun.DB
	timeout time.Duration
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: memory dsn is required", contractx.ErrConfiguration)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresStore{db: db, timeout: timeout}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event contractx.MemoryEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := &eventRow{
		CustomerID: event.CustomerID,
		SessionID:  event.SessionID,
		Role:       event.Role,
		Content:    event.Content,
		CreatedAt:  event.CreatedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("%w: insert event: %v", contractx.ErrMemoryUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) QueryRecords(
	ctx context.Context,
	customerID string,
	ns contractx.Namespace,
	search string,
	limit int,
) ([]contractx.MemoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []recordRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("customer_id = ?", customerID).
		Where("namespace = ?", string(ns))
	if search = strings.TrimSpace(search); search != "" {
		q = q.Where("content ILIKE ?", "%"+search+"%")
	}
	if err := q.OrderExpr("relevance DESC, created_at DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: query %s view: %v", contractx.ErrMemoryUnavailable, ns, err)
	}

	records := make([]contractx.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, contractx.MemoryRecord{
			Namespace: contractx.Namespace(row.Namespace),
			Content:   row.Content,
			Relevance: row.Relevance,
			CreatedAt: row.CreatedAt,
		})
	}
	return records, nil
}

// Checkpoint reports the extraction watermark for a customer. A customer
// the extractor has never touched yields the zero time, not an error.
func (s *PostgresStore) Checkpoint(ctx context.Context, customerID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row checkpointRow
	err := s.db.NewSelect().
		Model(&row).
		Where("customer_id = ?", customerID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: read checkpoint: %v", contractx.ErrMemoryUnavailable, err)
	}
	return row.ProcessedThrough, nil
}
