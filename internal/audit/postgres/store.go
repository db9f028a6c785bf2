package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/repogov-platform/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// Store — опциональный Postgres-бэкенд трейла (audit.backend: postgres).
// Система остается file-based: это экспорт для централизованной отчетности,
// а не source of truth.
type Store struct {
	db *sql.DB
}

func NewStore(connString string) (*Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// WriteBatch реализует audit.Store пакетной вставкой.
func (s *Store) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		meta, _ := json.Marshal(e.Metadata)

		vals = append(vals,
			e.ID, e.Timestamp, e.SessionID, e.TransactionID, e.Component,
			e.Operation, e.Target, e.Actor, string(e.Status), e.Security, meta,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_events (id, timestamp, session_id, transaction_id, component, operation, target, actor, status, security, metadata) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.db.ExecContext(ctx, query, vals...)
	return err
}
