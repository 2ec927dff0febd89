// Package sqlite provides a transport backed by a queue table in a SQLite
// file. Nodes on one host share the file, each one consuming the rows
// addressed to its local path.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/messageless/transport"
	"github.com/drblury/messageless/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFile is used when no SQLite file is configured.
const DefaultFile = "messageless.db"

// OpenDB allows overriding how the database is opened for testing.
var OpenDB = sql.Open

// QueueFactory allows overriding the queue creation for testing.
var QueueFactory = sqlqueue.New

// QueueConfig tunes polling and retries of every sqlite transport.
var QueueConfig = sqlqueue.Config{}

// Dialect is the SQL of the sqlite queue.
var Dialect = sqlqueue.Dialect{
	Name: TransportName,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS envelopes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BLOB,
			metadata TEXT,
			available_at INTEGER NOT NULL,
			locked_until INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS envelopes_topic_available ON envelopes (topic, available_at, id)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BLOB,
			metadata TEXT,
			attempts INTEGER NOT NULL,
			failed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS dead_letters_topic ON dead_letters (topic)`,
	},
	Insert:   `INSERT INTO envelopes (uuid, topic, payload, metadata, available_at) VALUES (?, ?, ?, ?, ?)`,
	Claim:    claim,
	Delete:   `DELETE FROM envelopes WHERE id = ?`,
	Attempts: `SELECT attempts FROM envelopes WHERE id = ?`,
	Retry:    `UPDATE envelopes SET attempts = attempts + 1, locked_until = NULL, available_at = ? WHERE id = ?`,
	Bury: []string{
		`INSERT INTO dead_letters (uuid, topic, payload, metadata, attempts, failed_at)
			SELECT uuid, topic, payload, metadata, attempts + 1, CAST(strftime('%s', 'now') AS INTEGER) * 1000
			FROM envelopes WHERE id = ?`,
		`DELETE FROM envelopes WHERE id = ?`,
	},
	Release:     `UPDATE envelopes SET locked_until = NULL WHERE id = ?`,
	Pending:     `SELECT COUNT(*) FROM envelopes WHERE topic = ?`,
	DeadLetters: `SELECT COUNT(*) FROM dead_letters WHERE topic = ?`,
}

const (
	selectNext = `SELECT id, uuid, payload, COALESCE(metadata, '') FROM envelopes
		WHERE topic = ? AND available_at <= ? AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY available_at, id LIMIT 1`
	lockRow = `UPDATE envelopes SET locked_until = ?
		WHERE id = ? AND (locked_until IS NULL OR locked_until < ?)`
)

// claim selects and locks in one transaction. Another process sharing the
// file may win the row between the two statements; the guarded update then
// touches nothing and the row is left to the winner.
func claim(ctx context.Context, db *sql.DB, topic string, now, lockUntil int64) (sqlqueue.Row, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return sqlqueue.Row{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var row sqlqueue.Row
	if err := tx.QueryRowContext(ctx, selectNext, topic, now, now).Scan(&row.ID, &row.UUID, &row.Payload, &row.Metadata); err != nil {
		return sqlqueue.Row{}, err
	}

	res, err := tx.ExecContext(ctx, lockRow, lockUntil, row.ID, now)
	if err != nil {
		return sqlqueue.Row{}, err
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return sqlqueue.Row{}, sql.ErrNoRows
	}
	return row, tx.Commit()
}

func init() {
	Register()
}

// Register registers the SQLite transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// DSN adds the busy timeout and WAL journal the queue relies on when several
// processes share the file.
func DSN(file string) string {
	if file == "" {
		file = DefaultFile
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", file)
}

// Build opens the SQLite file and returns its queue as publisher and
// subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	dsn := DSN(cfg.GetSQLiteFile())

	db, err := OpenDB("sqlite3", dsn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	// Writers serialize on the file anyway.
	db.SetMaxOpenConns(1)

	queue, err := QueueFactory(db, Dialect, QueueConfig, logger)
	if err != nil {
		_ = db.Close()
		return transport.Transport{}, err
	}

	logger.Info("Built SQLite transport", watermill.LogFields{"dsn": dsn, "local_path": cfg.GetLocalPath()})
	return transport.Transport{
		Publisher:  queue,
		Subscriber: queue,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}
