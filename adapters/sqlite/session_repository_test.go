package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

func newTestRepository(t *testing.T) *SessionRepository {
	t.Helper()
	repo, err := NewSessionRepository(filepath.Join(t.TempDir(), "sessions.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	session := entities.NewSession("sqlite-1")
	session.ApplyCaption(entities.CaptionEntry{Time: time.Now(), Source: "MIC", Status: entities.CaptionStatusFinal, Text: "first"})
	session.ApplyCaption(entities.CaptionEntry{Time: time.Now(), Source: "SYS", Status: entities.CaptionStatusInterim, Text: "sec"})
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	got, err := repo.GetByID(ctx, "sqlite-1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.Status != entities.SessionStatusRecording {
		t.Errorf("Expected status recording, got %s", got.Status)
	}
	if got.EndedAt != nil {
		t.Errorf("Expected no end time, got %v", got.EndedAt)
	}
	if len(got.Captions) != 2 || got.Captions[1].Text != "sec" || got.Captions[1].Source != "SYS" {
		t.Errorf("Unexpected captions %+v", got.Captions)
	}

	got.Finish(got.StartedAt.Add(3725*time.Second), "Planning", "We planned.")
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Failed to update session: %v", err)
	}

	finished, err := repo.GetByID(ctx, "sqlite-1")
	if err != nil {
		t.Fatal(err)
	}
	if finished.Status != entities.SessionStatusFinished || finished.Duration != "1:02:05" {
		t.Errorf("Unexpected finished session %+v", finished)
	}
	if finished.EndedAt == nil {
		t.Error("Expected end time to be stored")
	}
	if finished.Participants != 2 || finished.Title != "Planning" {
		t.Errorf("Unexpected metadata %+v", finished)
	}
}

func TestSessionRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := repo.Update(ctx, entities.NewSession("nope")); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, "nope"); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepositoryListOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s := entities.NewSession(id)
		s.StartedAt = base.Add(time.Duration(i) * time.Hour)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("Expected [c b], got %d sessions", len(list))
	}

	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Expected all 3 sessions without a limit, got %d", len(all))
	}
}

func TestSessionRepositoryStoresAssists(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	session := entities.NewSession("sqlite-ai")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	session.RecordAssist(entities.AILogEntry{Time: time.Now(), Type: "recap", Text: "Budget approved."})
	if err := repo.Update(ctx, session); err != nil {
		t.Fatalf("Failed to update session: %v", err)
	}

	got, err := repo.GetByID(ctx, "sqlite-ai")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.AIAssists != 1 || len(got.AILogs) != 1 || got.AILogs[0].Text != "Budget approved." {
		t.Errorf("Unexpected assists %d %+v", got.AIAssists, got.AILogs)
	}
}

func TestSessionRepositoryMigratesOldTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		duration TEXT NOT NULL DEFAULT '',
		participants INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		captions TEXT NOT NULL DEFAULT '[]'
	)`)
	if err != nil {
		t.Fatalf("Failed to create old table: %v", err)
	}
	_, err = db.Exec(`INSERT INTO sessions (id, started_at, status) VALUES (?, ?, ?)`, "legacy", time.Now(), "finished")
	if err != nil {
		t.Fatalf("Failed to insert legacy row: %v", err)
	}
	db.Close()

	repo, err := NewSessionRepository(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open old database: %v", err)
	}
	defer repo.Close()

	got, err := repo.GetByID(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("Failed to read legacy session: %v", err)
	}
	if got.AIAssists != 0 || len(got.AILogs) != 0 {
		t.Errorf("Expected empty assists, got %d %+v", got.AIAssists, got.AILogs)
	}
}

