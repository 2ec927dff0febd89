// Package sqlqueue is a durable envelope queue on top of a SQL table. Rows are
// keyed by path, so a node consumes its own queue by subscribing to its local
// path, and several replicas of that node compete for the same rows.
//
// A delivered row is locked until the node acks or nacks it. Acked rows are
// deleted. Nacked rows are retried with backoff and buried in the dead
// letter table after Config.MaxAttempts deliveries. A crashed consumer's
// lock expires after Config.LockTimeout and the row is delivered again.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messageless/internal/runtime/jsoncodec"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLockTimeout  = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = time.Second

	maxRetryBackoff = 30 * time.Second
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("sqlqueue: queue is closed")

// Row is a claimed envelope.
type Row struct {
	ID       int64
	UUID     string
	Payload  []byte
	Metadata string
}

// Dialect holds the SQL of one database. Times are unix milliseconds.
type Dialect struct {
	// Name labels log lines.
	Name string
	// Schema creates the queue and dead letter tables.
	Schema []string
	// Insert takes uuid, topic, payload, metadata, available_at.
	Insert string
	// Claim locks the next available row of topic until lockUntil. It
	// returns sql.ErrNoRows when there is none.
	Claim func(ctx context.Context, db *sql.DB, topic string, now, lockUntil int64) (Row, error)
	// Delete takes id.
	Delete string
	// Attempts takes id and returns how often the row was retried.
	Attempts string
	// Retry takes available_at, id. It bumps the attempt count and unlocks.
	Retry string
	// Bury takes id. The statements run in one transaction and move the row
	// to the dead letter table.
	Bury []string
	// Release takes id and drops the lock.
	Release string
	// Pending takes topic and counts queued rows.
	Pending string
	// DeadLetters takes topic and counts buried rows.
	DeadLetters string
}

// Config tunes delivery. Zero values take the defaults.
type Config struct {
	PollInterval time.Duration
	LockTimeout  time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Queue is both the publisher and the subscriber of a SQL transport.
type Queue struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	logger  watermill.LoggerAdapter

	closed   bool
	closedMu sync.RWMutex
	closing  chan struct{}
	wg       sync.WaitGroup
}

// New creates the tables of dialect and returns a queue that owns db.
func New(db *sql.DB, dialect Dialect, cfg Config, logger watermill.LoggerAdapter) (*Queue, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("%s: create schema: %w", dialect.Name, err)
		}
	}
	return &Queue{
		db:      db,
		dialect: dialect,
		config:  cfg.withDefaults(),
		logger:  logger.With(watermill.LogFields{"transport": dialect.Name}),
		closing: make(chan struct{}),
	}, nil
}

func (q *Queue) isClosed() bool {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	return q.closed
}

// Publish stores messages in the queue of the recipient path topic. Either
// all of them are stored or none.
func (q *Queue) Publish(topic string, messages ...*message.Message) error {
	if q.isClosed() {
		return ErrClosed
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("%s: begin publish: %w", q.dialect.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(q.dialect.Insert)
	if err != nil {
		return fmt.Errorf("%s: prepare publish: %w", q.dialect.Name, err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("%s: encode metadata: %w", q.dialect.Name, err)
		}
		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, string(metadata), now); err != nil {
			return fmt.Errorf("%s: insert envelope %s: %w", q.dialect.Name, msg.UUID, err)
		}
	}
	return tx.Commit()
}

// Subscribe delivers the rows of topic one at a time. The next row is
// claimed once the previous one was acked or nacked.
func (q *Queue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	if q.closed {
		return nil, ErrClosed
	}

	out := make(chan *message.Message)
	q.wg.Add(1)
	go q.consume(ctx, topic, out)
	return out, nil
}

func (q *Queue) consume(ctx context.Context, topic string, out chan *message.Message) {
	defer q.wg.Done()
	defer close(out)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything available before sleeping again.
		for q.deliverNext(ctx, topic, out) {
		}
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
		}
	}
}

// deliverNext reports whether a row was handed out and settled.
func (q *Queue) deliverNext(ctx context.Context, topic string, out chan *message.Message) bool {
	now := time.Now()
	row, err := q.dialect.Claim(ctx, q.db, topic, now.UnixMilli(), now.Add(q.config.LockTimeout).UnixMilli())
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && ctx.Err() == nil {
			q.logger.Error("Failed to claim envelope", err, watermill.LogFields{"topic": topic})
		}
		return false
	}

	msg := message.NewMessage(row.UUID, row.Payload)
	if row.Metadata != "" {
		if err := jsoncodec.Unmarshal([]byte(row.Metadata), &msg.Metadata); err != nil {
			q.logger.Error("Failed to decode envelope metadata", err, watermill.LogFields{"uuid": row.UUID})
		}
	}
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		q.release(row.ID)
		return false
	case <-q.closing:
		q.release(row.ID)
		return false
	}

	select {
	case <-msg.Acked():
		q.exec("ack", q.dialect.Delete, row.ID)
	case <-msg.Nacked():
		q.nack(row.ID, row.UUID)
	case <-ctx.Done():
		q.release(row.ID)
		return false
	case <-q.closing:
		q.release(row.ID)
		return false
	}
	return true
}

func (q *Queue) nack(id int64, uuid string) {
	var attempts int
	if err := q.db.QueryRow(q.dialect.Attempts, id).Scan(&attempts); err != nil {
		q.logger.Error("Failed to read envelope attempts", err, watermill.LogFields{"uuid": uuid})
		return
	}

	if attempts+1 >= q.config.MaxAttempts {
		if err := q.bury(id); err != nil {
			q.logger.Error("Failed to bury envelope", err, watermill.LogFields{"uuid": uuid})
			return
		}
		q.logger.Info("Envelope moved to dead letters", watermill.LogFields{"uuid": uuid, "attempts": attempts + 1})
		return
	}

	backoff := maxRetryBackoff
	if attempts < 16 {
		backoff = min(q.config.RetryBackoff<<attempts, maxRetryBackoff)
	}
	q.exec("retry", q.dialect.Retry, time.Now().Add(backoff).UnixMilli(), id)
}

func (q *Queue) bury(id int64) error {
	tx, err := q.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range q.dialect.Bury {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (q *Queue) release(id int64) {
	q.exec("release", q.dialect.Release, id)
}

func (q *Queue) exec(op, query string, args ...any) {
	if _, err := q.db.Exec(query, args...); err != nil {
		q.logger.Error("Failed to "+op+" envelope", err, nil)
	}
}

// Pending counts the envelopes queued for topic, including locked ones.
func (q *Queue) Pending(topic string) (int64, error) {
	var count int64
	err := q.db.QueryRow(q.dialect.Pending, topic).Scan(&count)
	return count, err
}

// DeadLetters counts the envelopes of topic that ran out of attempts.
func (q *Queue) DeadLetters(topic string) (int64, error) {
	var count int64
	err := q.db.QueryRow(q.dialect.DeadLetters, topic).Scan(&count)
	return count, err
}

// Close stops every subscription, unlocks the rows in flight and closes the
// database. It is safe to call more than once.
func (q *Queue) Close() error {
	q.closedMu.Lock()
	if q.closed {
		q.closedMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closing)
	q.closedMu.Unlock()

	q.wg.Wait()
	return q.db.Close()
}
