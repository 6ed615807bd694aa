package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stego_chat/internal/delivery/migrations"
	"stego_chat/internal/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

type (
	// SQLiteStore keeps envelopes in a single WAL-mode database file.
	SQLiteStore struct {
		db *sql.DB
	}

	// MigrateResult describes what happened during migration.
	MigrateResult struct {
		Version uint
		Dirty   bool
		Changed bool
	}
)

// OpenSQLite opens path and brings the schema up to date.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if _, err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, env *model.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	stored := *env
	stored.State = model.StateQueued
	body, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	now := time.Now().UnixMicro()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO envelopes
			(id, kind, sender_id, receiver_id, chat_id, created_at, state, one_time, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?, ?)`,
		env.ID, env.Kind, env.SenderID, env.ReceiverID, env.ChatID,
		createdScore(env.CreatedAt), env.OneTime, body, now)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", env.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DrainFor(ctx context.Context, receiverID string) ([]*model.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, state FROM envelopes
		WHERE receiver_id = ?
		  AND (state = 'queued' OR (state = 'delivered' AND one_time = 1))
		ORDER BY created_at ASC, id ASC`, receiverID)
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", receiverID, err)
	}
	defer func() { _ = rows.Close() }()

	var envs []*model.Envelope
	for rows.Next() {
		var (
			body  []byte
			state string
		)
		if err := rows.Scan(&body, &state); err != nil {
			return nil, err
		}
		env, err := decodeSQLiteEnvelope(body, state)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func (s *SQLiteStore) transition(ctx context.Context, id string, from, to model.EnvelopeState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE envelopes SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, time.Now().UnixMicro(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, id string) (bool, error) {
	ok, err := s.transition(ctx, id, model.StateQueued, model.StateDelivered)
	if err != nil {
		return false, fmt.Errorf("mark delivered %s: %w", id, err)
	}
	return ok, nil
}

func (s *SQLiteStore) Requeue(ctx context.Context, id string) error {
	if _, err := s.transition(ctx, id, model.StateDelivered, model.StateQueued); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkConsumed(ctx context.Context, id string) error {
	var oneTime bool
	err := s.db.QueryRowContext(ctx, `SELECT one_time FROM envelopes WHERE id = ?`, id).Scan(&oneTime)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark consumed %s: %w", id, err)
	}
	if !oneTime {
		return ErrNotOneTime
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE envelopes SET state = 'consumed', body = NULL, updated_at = ?
		WHERE id = ? AND state != 'consumed'`,
		time.Now().UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("mark consumed %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Envelope, error) {
	var (
		body  []byte
		state string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, state FROM envelopes WHERE id = ? AND state != 'consumed'`, id).Scan(&body, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return decodeSQLiteEnvelope(body, state)
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM envelopes
		WHERE created_at < ?
		  AND ((state = 'delivered' AND one_time = 0) OR state = 'consumed')`,
		createdScore(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeSQLiteEnvelope(body []byte, state string) (*model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	env.State = model.EnvelopeState(state)
	return &env, nil
}
