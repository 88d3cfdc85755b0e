package store

import "testing"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetRoomHost(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.RoomHost("room-1"); err != nil || ok {
		t.Fatalf("expected no room cached, got ok=%v err=%v", ok, err)
	}

	if err := s.UpsertRoom("room-1", "host@example.com"); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}
	host, ok, err := s.RoomHost("room-1")
	if err != nil || !ok || host != "host@example.com" {
		t.Fatalf("RoomHost = %q, %v, %v", host, ok, err)
	}

	if err := s.UpsertRoom("room-1", "newhost@example.com"); err != nil {
		t.Fatalf("UpsertRoom update: %v", err)
	}
	host, ok, err = s.RoomHost("room-1")
	if err != nil || !ok || host != "newhost@example.com" {
		t.Fatalf("RoomHost after update = %q, %v, %v", host, ok, err)
	}

	if err := s.ForgetRoom("room-1"); err != nil {
		t.Fatalf("ForgetRoom: %v", err)
	}
	if _, ok, err := s.RoomHost("room-1"); err != nil || ok {
		t.Fatalf("expected room forgotten, got ok=%v err=%v", ok, err)
	}
}

func TestAuditLogInsertAndQuery(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertAuditLog("room-1", "mod@example.com", "kick", "peer-x", `{}`); err != nil {
		t.Fatalf("InsertAuditLog: %v", err)
	}
	if err := s.InsertAuditLog("room-1", "mod@example.com", "mute", "peer-y", `{"duration_s":60}`); err != nil {
		t.Fatalf("InsertAuditLog: %v", err)
	}
	if err := s.InsertAuditLog("room-2", "other@example.com", "kick", "peer-z", `{}`); err != nil {
		t.Fatalf("InsertAuditLog: %v", err)
	}

	entries, err := s.GetAuditLog("room-1", 10)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for room-1, got %d", len(entries))
	}
	if entries[0].Action != "mute" {
		t.Fatalf("expected most recent entry first, got %q", entries[0].Action)
	}
}

func TestBanLifecycle(t *testing.T) {
	s := newTestStore(t)

	banned, _, err := s.IsBanned("bad@example.com", "1.2.3.4")
	if err != nil || banned {
		t.Fatalf("expected not banned initially, got %v %v", banned, err)
	}

	if _, err := s.InsertBan("bad@example.com", "1.2.3.4", "spam", "mod@example.com", 0); err != nil {
		t.Fatalf("InsertBan: %v", err)
	}

	banned, reason, err := s.IsBanned("bad@example.com", "")
	if err != nil || !banned || reason != "spam" {
		t.Fatalf("IsBanned by email = %v, %q, %v", banned, reason, err)
	}

	banned, _, err = s.IsBanned("", "1.2.3.4")
	if err != nil || !banned {
		t.Fatalf("IsBanned by ip = %v, %v", banned, err)
	}
}

func TestPurgeExpiredBans(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertBan("permanent@example.com", "", "abuse", "mod", 0); err != nil {
		t.Fatalf("InsertBan permanent: %v", err)
	}
	if _, err := s.InsertBan("expired@example.com", "", "cooldown", "mod", 1); err != nil {
		t.Fatalf("InsertBan expiring: %v", err)
	}
	// expired@example.com's ban was created "now" with duration_s=1, so it
	// has not technically elapsed yet in this instant; force it to appear
	// expired by directly backdating it.
	if _, err := s.db.Exec(`UPDATE bans SET created_at = created_at - 10 WHERE email = ?`, "expired@example.com"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.PurgeExpiredBans()
	if err != nil {
		t.Fatalf("PurgeExpiredBans: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged ban, got %d", n)
	}

	banned, _, err := s.IsBanned("permanent@example.com", "")
	if err != nil || !banned {
		t.Fatalf("permanent ban should survive purge, got %v %v", banned, err)
	}
}

func TestMessageOwnerRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.MessageOwner(42); err != nil || ok {
		t.Fatalf("expected unknown message owner, got ok=%v err=%v", ok, err)
	}

	if err := s.RecordMessageOwner(42, "room-1", "author@example.com"); err != nil {
		t.Fatalf("RecordMessageOwner: %v", err)
	}
	owner, ok, err := s.MessageOwner(42)
	if err != nil || !ok || owner != "author@example.com" {
		t.Fatalf("MessageOwner = %q, %v, %v", owner, ok, err)
	}
}

func TestMigrationsAreIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir() + "/router.db"

	s1, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New (first open): %v", err)
	}
	if err := s1.UpsertRoom("room-1", "host@example.com"); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer s2.Close()

	host, ok, err := s2.RoomHost("room-1")
	if err != nil || !ok || host != "host@example.com" {
		t.Fatalf("RoomHost after reopen = %q, %v, %v", host, ok, err)
	}
}
