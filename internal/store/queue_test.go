package store

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/felixtosh/taxtool/internal/models"
)

func TestQueueClaimWithEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("firestore client error: %v", err)
	}
	defer client.Close()

	store := NewQueueStore(client)
	uid := "claim-user"

	base := time.Date(2025, time.February, 1, 8, 0, 0, 0, time.UTC)
	items := []models.QueueItem{
		{
			QueueItemID: "newer",
			UserID:      uid,
			Scope:       models.ScopeAllIncomplete,
			Strategies:  models.DefaultStrategies(),
			TriggeredBy: models.TriggerManual,
			Status:      models.QueueStatusPending,
			CreatedAt:   base.Add(time.Minute),
			UpdatedAt:   base.Add(time.Minute),
		},
		{
			QueueItemID: "older",
			UserID:      uid,
			Scope:       models.ScopeAllIncomplete,
			Strategies:  models.DefaultStrategies(),
			TriggeredBy: models.TriggerManual,
			Status:      models.QueueStatusPending,
			CreatedAt:   base,
			UpdatedAt:   base,
		},
	}
	for _, item := range items {
		_, err := client.Collection("users").Doc(uid).Collection(queueCollection).Doc(item.QueueItemID).Set(ctx, item)
		if err != nil {
			t.Fatalf("seed queue item error: %v", err)
		}
	}

	claimed, err := store.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if claimed == nil || claimed.QueueItemID != "older" {
		t.Fatalf("expected the oldest pending item, got %+v", claimed)
	}
	if claimed.Status != models.QueueStatusProcessing {
		t.Fatalf("claimed status = %s", claimed.Status)
	}

	// The same user already has an item processing, so the newer one
	// must not be claimable.
	second, err := store.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("second claim error: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no claim while one is processing, got %+v", second)
	}

	// Finishing the first item frees the stream.
	if err := store.MarkCompleted(ctx, uid, claimed.QueueItemID, claimed); err != nil {
		t.Fatalf("mark completed error: %v", err)
	}
	third, err := store.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("third claim error: %v", err)
	}
	if third == nil || third.QueueItemID != "newer" {
		t.Fatalf("expected the newer item after completion, got %+v", third)
	}
}
