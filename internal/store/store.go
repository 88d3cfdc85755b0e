// Package store provides the router's local SQLite-backed cache: a
// snapshot of rooms currently known to this server, a moderation audit
// log, a ban list, and message-ownership records for edit/delete checks.
// This is deliberately narrower than the teacher's store/store.go — full
// meeting CRUD (display names, channels, file uploads) stays with the
// external meeting-control service, reached via internal/meetingclient;
// this cache exists only for what the router itself needs locally (per
// SPEC_FULL.md §4.8).
//
// Migration design ported verbatim from the teacher: SQL statements live
// in the ordered `migrations` slice, applied exactly once, tracked in
// schema_migrations. Append, never edit or reorder.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

var migrations = []string{
	// v1 — rooms known to this server
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id    TEXT PRIMARY KEY,
		host_email TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — moderation audit log
	`CREATE TABLE IF NOT EXISTS audit_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id      TEXT NOT NULL,
		actor_email  TEXT NOT NULL,
		action       TEXT NOT NULL,
		target       TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL DEFAULT '{}',
		created_at   INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — bans
	`CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		email      TEXT NOT NULL DEFAULT '',
		ip         TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		banned_by  TEXT NOT NULL DEFAULT '',
		duration_s INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v4 — message ownership, for moderation edit/delete checks
	`CREATE TABLE IF NOT EXISTS message_owners (
		msg_id     INTEGER PRIMARY KEY,
		room_id    TEXT NOT NULL,
		owner_email TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_room ON audit_log(room_id, created_at)`,
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes the router's local cache
// operations.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func New(path string, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		logger.Warnw("wal mode failed, continuing", "err", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		logger.Warnw("busy_timeout failed, continuing", "err", err)
	}

	s := &Store{db: db, log: logger.Named("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.log.Debugw("applied migration", "version", v)
	}
	return nil
}

// UpsertRoom records (or refreshes) this server's snapshot of a room it is
// currently hosting.
func (s *Store) UpsertRoom(roomID, hostEmail string) error {
	_, err := s.db.Exec(
		`INSERT INTO rooms(room_id, host_email) VALUES(?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET host_email = excluded.host_email`,
		roomID, hostEmail,
	)
	return err
}

// RoomHost returns the recorded host email for roomID, and false if no
// snapshot is cached.
func (s *Store) RoomHost(roomID string) (string, bool, error) {
	var host string
	err := s.db.QueryRow(`SELECT host_email FROM rooms WHERE room_id = ?`, roomID).Scan(&host)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return host, true, nil
}

// ForgetRoom removes a room's snapshot. cmd/router's sweep loop does not
// call it, so snapshots of rooms reclaimed by internal/room.Registry.Sweep
// stay in the cache.
func (s *Store) ForgetRoom(roomID string) error {
	_, err := s.db.Exec(`DELETE FROM rooms WHERE room_id = ?`, roomID)
	return err
}

// AuditEntry is one recorded moderation action.
type AuditEntry struct {
	ID          int64
	RoomID      string
	ActorEmail  string
	Action      string
	Target      string
	DetailsJSON string
	CreatedAt   int64
}

// InsertAuditLog records one moderation action.
func (s *Store) InsertAuditLog(roomID, actorEmail, action, target, detailsJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log(room_id, actor_email, action, target, details_json) VALUES(?, ?, ?, ?, ?)`,
		roomID, actorEmail, action, target, detailsJSON,
	)
	return err
}

// GetAuditLog returns the most recent limit audit entries for roomID, most
// recent first.
func (s *Store) GetAuditLog(roomID string, limit int) ([]AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, room_id, actor_email, action, target, details_json, created_at
		 FROM audit_log WHERE room_id = ? ORDER BY created_at DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.ActorEmail, &e.Action, &e.Target, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ban is one active or expired ban record.
type Ban struct {
	ID        int64
	Email     string
	IP        string
	Reason    string
	BannedBy  string
	DurationS int
	CreatedAt int64
}

// InsertBan records a new ban and returns its row id.
func (s *Store) InsertBan(email, ip, reason, bannedBy string, durationS int) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO bans(email, ip, reason, banned_by, duration_s) VALUES(?, ?, ?, ?, ?)`,
		email, ip, reason, bannedBy, durationS,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// IsBanned reports whether email or ip has an active (non-expired,
// duration_s == 0 meaning permanent) ban.
func (s *Store) IsBanned(email, ip string) (bool, string, error) {
	var reason string
	err := s.db.QueryRow(
		`SELECT reason FROM bans
		 WHERE (email = ? OR ip = ?)
		   AND (duration_s = 0 OR created_at + duration_s > unixepoch())
		 ORDER BY created_at DESC LIMIT 1`,
		email, ip,
	).Scan(&reason)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, reason, nil
}

// PurgeExpiredBans deletes bans whose duration has elapsed, returning the
// number of rows removed.
func (s *Store) PurgeExpiredBans() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM bans WHERE duration_s != 0 AND created_at + duration_s <= unixepoch()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordMessageOwner records which participant owns a chat/control message,
// for later edit/delete authorization checks.
func (s *Store) RecordMessageOwner(msgID int64, roomID, ownerEmail string) error {
	_, err := s.db.Exec(
		`INSERT INTO message_owners(msg_id, room_id, owner_email) VALUES(?, ?, ?)`,
		msgID, roomID, ownerEmail,
	)
	return err
}

// MessageOwner returns the recorded owner of msgID, and false if unknown.
func (s *Store) MessageOwner(msgID int64) (string, bool, error) {
	var owner string
	err := s.db.QueryRow(`SELECT owner_email FROM message_owners WHERE msg_id = ?`, msgID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}
