package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresOpLogTableName   = "memex_relay_ops"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresOpLog stores operation records in a Postgres table, created
// on first use.
type PostgresOpLog struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresOpLog(dsn string) (*PostgresOpLog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresOpLog{
		dsn:       dsn,
		tableName: postgresOpLogTableName,
		openDB:    sql.Open,
	}, nil
}

func (l *PostgresOpLog) Append(op Operation) error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, action, target, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, postgresQuoteIdentifier(l.tableName))
	_, err := l.db.ExecContext(ctx, query, op.ID, op.Action, op.Target, string(op.Status), op.Error, op.CreatedAt)
	return err
}

func (l *PostgresOpLog) List(limit int) ([]Operation, error) {
	if err := l.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMaxStoredOps
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, action, target, status, error, created_at
		FROM %s ORDER BY created_at DESC, id DESC LIMIT $1`, postgresQuoteIdentifier(l.tableName))
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var status string
		if err := rows.Scan(&op.ID, &op.Action, &op.Target, &status, &op.Error, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Status = OpStatus(status)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (l *PostgresOpLog) Get(id string) (Operation, error) {
	if err := l.ensureReady(); err != nil {
		return Operation{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, action, target, status, error, created_at
		FROM %s WHERE id = $1`, postgresQuoteIdentifier(l.tableName))
	var op Operation
	var status string
	err := l.db.QueryRowContext(ctx, query, id).Scan(&op.ID, &op.Action, &op.Target, &status, &op.Error, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, ErrNotFound
	}
	if err != nil {
		return Operation{}, err
	}
	op.Status = OpStatus(status)
	return op, nil
}

func (l *PostgresOpLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *PostgresOpLog) ensureReady() error {
	if l == nil {
		return ErrInvalidInput
	}
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				action TEXT NOT NULL,
				target TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL
			)`, postgresQuoteIdentifier(l.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
