package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

func TestMemorySessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()

	t.Run("CreateAndGet", func(t *testing.T) {
		session := entities.NewSession("s1")
		session.ApplyCaption(entities.CaptionEntry{Source: "MIC", Status: entities.CaptionStatusFinal, Text: "hi"})
		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		got, err := repo.GetByID(ctx, "s1")
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if len(got.Captions) != 1 || got.Captions[0].Text != "hi" {
			t.Errorf("Expected stored caption, got %+v", got.Captions)
		}

		// mutations on the returned copy must not leak back
		got.Captions[0].Text = "changed"
		again, _ := repo.GetByID(ctx, "s1")
		if again.Captions[0].Text != "hi" {
			t.Error("Expected repository to return copies")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		if err := repo.Create(ctx, entities.NewSession("s1")); err == nil {
			t.Error("Expected duplicate create to fail")
		}
	})

	t.Run("Update", func(t *testing.T) {
		session, _ := repo.GetByID(ctx, "s1")
		session.Finish(session.StartedAt.Add(65*time.Second), "Standup", "")
		if err := repo.Update(ctx, session); err != nil {
			t.Fatalf("Failed to update session: %v", err)
		}
		got, _ := repo.GetByID(ctx, "s1")
		if got.Status != entities.SessionStatusFinished || got.Duration != "1:05" {
			t.Errorf("Unexpected updated session %+v", got)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := repo.Update(ctx, entities.NewSession("missing"))
		if !errors.Is(err, repositories.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		newer := entities.NewSession("s2")
		newer.StartedAt = time.Now().Add(time.Hour)
		if err := repo.Create(ctx, newer); err != nil {
			t.Fatal(err)
		}
		list, err := repo.List(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].ID != "s2" {
			t.Errorf("Expected newest session first, got %+v", list)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "s2"); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.GetByID(ctx, "s2"); !errors.Is(err, repositories.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}
