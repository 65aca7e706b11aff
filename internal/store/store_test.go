package store_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callscribe/internal/segment"
	"callscribe/internal/store"
	"callscribe/internal/testsupport"
)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if st.Path() != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", st.Path())
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if _, err := os.Stat(filepath.Join(cfg.Paths.StateDir, "callscribe.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestOpenRejectsForeignOrDamagedSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	tamper := func(stmt string) {
		t.Helper()
		db, err := sql.Open("sqlite", cfg.DatabasePath())
		if err != nil {
			t.Fatalf("open raw db: %v", err)
		}
		defer db.Close()
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	tamper("DROP TABLE topics")
	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaIncomplete) || !strings.Contains(err.Error(), "topics") {
		t.Fatalf("expected incomplete schema naming topics, got %v", err)
	}

	tamper("PRAGMA user_version = 7")
	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}

	tamper("PRAGMA user_version = 0")
	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("expected unversioned database to be adopted, got %v", err)
	}
	defer reopened.Close()
	if _, _, err := reopened.LookupTopic(context.Background(), "mtg-1"); err != nil {
		t.Fatalf("topics table not restored: %v", err)
	}
}

func TestTopicMappingIsFirstWriterWins(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, ok, err := st.LookupTopic(ctx, "meet-1"); err != nil || ok {
		t.Fatalf("expected no topic, got ok=%v err=%v", ok, err)
	}
	if err := st.SaveTopic(ctx, "meet-1", "0.0.1001"); err != nil {
		t.Fatalf("SaveTopic failed: %v", err)
	}
	if err := st.SaveTopic(ctx, "meet-1", "0.0.2002"); err != nil {
		t.Fatalf("second SaveTopic failed: %v", err)
	}
	topic, ok, err := st.LookupTopic(ctx, "meet-1")
	if err != nil || !ok || topic != "0.0.1001" {
		t.Fatalf("expected original topic, got %q ok=%v err=%v", topic, ok, err)
	}
	if err := st.SaveTopic(ctx, "", "0.0.1"); err == nil {
		t.Fatal("expected error for empty meeting id")
	}

	topics, err := st.ListTopics(ctx)
	if err != nil || len(topics) != 1 {
		t.Fatalf("expected one topic, got %d err=%v", len(topics), err)
	}
}

func TestSessionUpsertAndList(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := store.Session{ID: "s1", MeetingID: "m1", State: "recording", StartedAt: start, UpdatedAt: start}
	second := store.Session{ID: "s2", MeetingID: "m2", State: "detected", StartedAt: start, UpdatedAt: start.Add(time.Minute)}
	for _, s := range []store.Session{first, second} {
		if err := st.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	ended := start.Add(2 * time.Minute)
	first.State = "completed"
	first.TopicID = "0.0.42"
	first.Transcribing = true
	first.Segments = 7
	first.UpdatedAt = ended
	first.EndedAt = &ended
	if err := st.SaveSession(ctx, first); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "completed" || got.TopicID != "0.0.42" || !got.Transcribing || got.Segments != 7 {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) || !got.StartedAt.Equal(start) {
		t.Fatalf("unexpected timestamps %+v", got)
	}

	list, err := st.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "s1" {
		t.Fatalf("expected most recently updated session first, got %+v", list)
	}

	if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailActiveSessions(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()
	for id, state := range map[string]string{"a": "recording", "b": "transcribing", "c": "completed"} {
		if err := st.SaveSession(ctx, store.Session{ID: id, MeetingID: id, State: state, StartedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	n, err := st.FailActiveSessions(ctx, []string{"recording", "transcribing"}, "daemon restarted")
	if err != nil {
		t.Fatalf("FailActiveSessions failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions updated, got %d", n)
	}
	a, _ := st.GetSession(ctx, "a")
	if a.State != "error" || a.Error != "daemon restarted" || a.EndedAt == nil {
		t.Fatalf("unexpected failed session %+v", a)
	}
	c, _ := st.GetSession(ctx, "c")
	if c.State != "completed" {
		t.Fatalf("completed session should be untouched, got %+v", c)
	}
}

func TestJournalKeepsQueueOrderAcrossAttemptUpdates(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		seg := segment.Segment{
			SessionID: "sess",
			Sequence:  seq,
			Format:    "webm",
			Audio:     bytes.Repeat([]byte{byte(seq)}, 1200),
			EndTimeMs: seq * 25000,
		}
		if err := st.SaveSegment(ctx, seg); err != nil {
			t.Fatalf("SaveSegment failed: %v", err)
		}
	}

	retried := segment.Segment{SessionID: "sess", Sequence: 1, Attempts: 2, Audio: []byte{1}}
	if err := st.SaveSegment(ctx, retried); err != nil {
		t.Fatalf("update attempts failed: %v", err)
	}
	if err := st.RemoveSegment(ctx, "sess", 2); err != nil {
		t.Fatalf("RemoveSegment failed: %v", err)
	}

	segs, err := st.LoadSegments(ctx)
	if err != nil {
		t.Fatalf("LoadSegments failed: %v", err)
	}
	if len(segs) != 2 || segs[0].Sequence != 1 || segs[1].Sequence != 3 {
		t.Fatalf("unexpected journal contents %+v", segs)
	}
	if segs[0].Attempts != 2 {
		t.Fatalf("expected attempts to persist, got %d", segs[0].Attempts)
	}
	if len(segs[0].Audio) != 1200 {
		t.Fatalf("expected original audio to be kept, got %d bytes", len(segs[0].Audio))
	}

	if err := st.ClearSegments(ctx); err != nil {
		t.Fatalf("ClearSegments failed: %v", err)
	}
	if n, err := st.JournalSize(ctx); err != nil || n != 0 {
		t.Fatalf("expected empty journal, got %d err=%v", n, err)
	}
}

func TestOpenRepositorySelectsBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	repo, err := store.OpenRepository(ctx, cfg, st)
	if err != nil {
		t.Fatalf("OpenRepository failed: %v", err)
	}
	if err := repo.SaveTopic(ctx, "m", "0.0.5"); err != nil {
		t.Fatalf("SaveTopic via repository failed: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("repository Close failed: %v", err)
	}
	if _, ok, err := st.LookupTopic(ctx, "m"); err != nil || !ok {
		t.Fatalf("expected store to remain usable after repository close: ok=%v err=%v", ok, err)
	}

	cfg.Store.Backend = "etcd"
	if _, err := store.OpenRepository(ctx, cfg, st); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
