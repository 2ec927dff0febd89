// Package postgres provides a transport backed by a queue table in
// PostgreSQL. Replicas of a node claim rows of their local path with
// FOR UPDATE SKIP LOCKED, so each envelope goes to one of them.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/messageless/transport"
	"github.com/drblury/messageless/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// Alias is accepted as PubSubSystem as well.
const Alias = "postgresql"

// Schema holds the queue tables.
const Schema = "messageless"

// OpenDB allows overriding how the database is opened for testing.
var OpenDB = sql.Open

// QueueFactory allows overriding the queue creation for testing.
var QueueFactory = sqlqueue.New

// QueueConfig tunes polling and retries of every postgres transport.
var QueueConfig = sqlqueue.Config{}

// Dialect is the SQL of the postgres queue.
var Dialect = sqlqueue.Dialect{
	Name: TransportName,
	Schema: []string{
		`CREATE SCHEMA IF NOT EXISTS ` + Schema,
		`CREATE TABLE IF NOT EXISTS ` + Schema + `.envelopes (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BYTEA,
			metadata TEXT,
			available_at BIGINT NOT NULL,
			locked_until BIGINT,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS envelopes_topic_available ON ` + Schema + `.envelopes (topic, available_at, id)`,
		`CREATE TABLE IF NOT EXISTS ` + Schema + `.dead_letters (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BYTEA,
			metadata TEXT,
			attempts INTEGER NOT NULL,
			failed_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS dead_letters_topic ON ` + Schema + `.dead_letters (topic)`,
	},
	Insert:   `INSERT INTO ` + Schema + `.envelopes (uuid, topic, payload, metadata, available_at) VALUES ($1, $2, $3, $4, $5)`,
	Claim:    claim,
	Delete:   `DELETE FROM ` + Schema + `.envelopes WHERE id = $1`,
	Attempts: `SELECT attempts FROM ` + Schema + `.envelopes WHERE id = $1`,
	Retry:    `UPDATE ` + Schema + `.envelopes SET attempts = attempts + 1, locked_until = NULL, available_at = $1 WHERE id = $2`,
	Bury: []string{
		`WITH buried AS (
			DELETE FROM ` + Schema + `.envelopes WHERE id = $1
			RETURNING uuid, topic, payload, metadata, attempts
		)
		INSERT INTO ` + Schema + `.dead_letters (uuid, topic, payload, metadata, attempts, failed_at)
		SELECT uuid, topic, payload, metadata, attempts + 1, (EXTRACT(EPOCH FROM now()) * 1000)::BIGINT FROM buried`,
	},
	Release:     `UPDATE ` + Schema + `.envelopes SET locked_until = NULL WHERE id = $1`,
	Pending:     `SELECT COUNT(*) FROM ` + Schema + `.envelopes WHERE topic = $1`,
	DeadLetters: `SELECT COUNT(*) FROM ` + Schema + `.dead_letters WHERE topic = $1`,
}

const claimNext = `UPDATE ` + Schema + `.envelopes SET locked_until = $3
	WHERE id = (
		SELECT id FROM ` + Schema + `.envelopes
		WHERE topic = $1 AND available_at <= $2 AND (locked_until IS NULL OR locked_until < $2)
		ORDER BY available_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, uuid, payload, COALESCE(metadata, '')`

func claim(ctx context.Context, db *sql.DB, topic string, now, lockUntil int64) (sqlqueue.Row, error) {
	var row sqlqueue.Row
	err := db.QueryRowContext(ctx, claimNext, topic, now, lockUntil).Scan(&row.ID, &row.UUID, &row.Payload, &row.Metadata)
	return row, err
}

func init() {
	Register()
}

// Register registers the PostgreSQL transport under its name and alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities(Alias, Build, transport.PostgresCapabilities)
}

// Build connects to PostgreSQL, creates the queue tables and returns the
// queue as publisher and subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	url := cfg.GetPostgresURL()
	if url == "" {
		return transport.Transport{}, errors.New("postgres: URL is required")
	}

	db, err := OpenDB("postgres", url)
	if err != nil {
		return transport.Transport{}, err
	}

	queue, err := QueueFactory(db, Dialect, QueueConfig, logger)
	if err != nil {
		_ = db.Close()
		return transport.Transport{}, err
	}

	logger.Info("Built PostgreSQL transport", watermill.LogFields{"schema": Schema, "local_path": cfg.GetLocalPath()})
	return transport.Transport{
		Publisher:  queue,
		Subscriber: queue,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}
