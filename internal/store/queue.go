package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
)

const queueCollection = "search_queue"

// Claim sentinels: not surfaced to callers, they just abort the claim
// transaction for one candidate document.
var (
	errItemTaken  = errors.New("queue item no longer pending")
	errStreamBusy = errors.New("another item is processing for this user")
)

type queueStore struct {
	client *firestore.Client
}

func NewQueueStore(client *firestore.Client) *queueStore {
	return &queueStore{client: client}
}

func (s *queueStore) collection(uid string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(uid).Collection(queueCollection)
}

func (s *queueStore) Create(ctx context.Context, item *models.QueueItem) error {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if _, err := s.collection(item.UserID).Doc(item.QueueItemID).Create(ctx, item); err != nil {
		return errs.NewDatabaseError("create", err.Error())
	}
	return nil
}

func (s *queueStore) Get(ctx context.Context, uid, itemID string) (*models.QueueItem, error) {
	doc, err := s.collection(uid).Doc(itemID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, errs.NewNotFoundError(fmt.Sprintf("queue item %s not found", itemID))
	}
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	var item models.QueueItem
	if err := doc.DataTo(&item); err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return &item, nil
}

func (s *queueStore) Delete(ctx context.Context, uid, itemID string) error {
	if _, err := s.collection(uid).Doc(itemID).Delete(ctx); err != nil {
		return errs.NewDatabaseError("delete", err.Error())
	}
	return nil
}

// Update applies targeted field updates plus an updatedAt bump.
func (s *queueStore) Update(ctx context.Context, uid, itemID string, updates []firestore.Update) error {
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now()})
	if _, err := s.collection(uid).Doc(itemID).Update(ctx, updates); err != nil {
		return errs.NewDatabaseError("update", err.Error())
	}
	return nil
}

// ClaimOldestPending atomically flips the oldest pending item to
// processing and returns it. The flip runs in a transaction so two
// concurrent ticks cannot both claim: the read-then-write window the
// status field would otherwise leave open is closed here. At most one
// item per user may be processing; candidates whose user already has one
// are skipped. Returns (nil, nil) when there is nothing to claim.
func (s *queueStore) ClaimOldestPending(ctx context.Context) (*models.QueueItem, error) {
	candidates, err := s.client.CollectionGroup(queueCollection).
		Where("status", "==", models.QueueStatusPending).
		OrderBy("createdAt", firestore.Asc).
		Limit(5).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}

	for _, candidate := range candidates {
		var claimed models.QueueItem
		err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(candidate.Ref)
			if err != nil {
				return err
			}
			if err := snap.DataTo(&claimed); err != nil {
				return err
			}
			if claimed.Status != models.QueueStatusPending {
				return errItemTaken
			}

			processing, err := tx.Documents(candidate.Ref.Parent.
				Where("status", "==", models.QueueStatusProcessing).
				Limit(1)).GetAll()
			if err != nil {
				return err
			}
			if len(processing) > 0 {
				return errStreamBusy
			}

			now := time.Now()
			return tx.Update(candidate.Ref, []firestore.Update{
				{Path: "status", Value: models.QueueStatusProcessing},
				{Path: "startedAt", Value: now},
				{Path: "updatedAt", Value: now},
			})
		})
		if errors.Is(err, errItemTaken) || errors.Is(err, errStreamBusy) {
			continue
		}
		if err != nil {
			return nil, errs.NewDatabaseError("update", err.Error())
		}

		claimed.Status = models.QueueStatusProcessing
		return &claimed, nil
	}

	return nil, nil
}

func progressUpdates(item *models.QueueItem) []firestore.Update {
	return []firestore.Update{
		{Path: "lastProcessedTransactionId", Value: item.LastProcessedTransactionID},
		{Path: "transactionsProcessed", Value: item.TransactionsProcessed},
		{Path: "transactionsMatched", Value: item.TransactionsMatched},
		{Path: "filesConnected", Value: item.FilesConnected},
	}
}

// SaveProgress persists the resume cursor and counters mid-batch.
func (s *queueStore) SaveProgress(ctx context.Context, uid, itemID string, item *models.QueueItem) error {
	return s.Update(ctx, uid, itemID, progressUpdates(item))
}

// Requeue flips a processing item back to pending in place, keeping its
// cursor so the next claim resumes where this batch stopped.
func (s *queueStore) Requeue(ctx context.Context, uid, itemID string, item *models.QueueItem) error {
	updates := append(progressUpdates(item),
		firestore.Update{Path: "status", Value: models.QueueStatusPending},
		firestore.Update{Path: "retryCount", Value: item.RetryCount},
		firestore.Update{Path: "lastError", Value: item.LastError},
		firestore.Update{Path: "startedAt", Value: firestore.Delete},
	)
	return s.Update(ctx, uid, itemID, updates)
}

// MarkPaused parks the item with its progress intact; a later resume
// requeues it.
func (s *queueStore) MarkPaused(ctx context.Context, uid, itemID string, item *models.QueueItem) error {
	updates := append(progressUpdates(item),
		firestore.Update{Path: "status", Value: models.QueueStatusPaused},
	)
	return s.Update(ctx, uid, itemID, updates)
}

func (s *queueStore) MarkCompleted(ctx context.Context, uid, itemID string, item *models.QueueItem) error {
	updates := append(progressUpdates(item),
		firestore.Update{Path: "status", Value: models.QueueStatusCompleted},
		firestore.Update{Path: "completedAt", Value: time.Now()},
	)
	return s.Update(ctx, uid, itemID, updates)
}

func (s *queueStore) MarkFailed(ctx context.Context, uid, itemID string, item *models.QueueItem) error {
	updates := append(progressUpdates(item),
		firestore.Update{Path: "status", Value: models.QueueStatusFailed},
		firestore.Update{Path: "retryCount", Value: item.RetryCount},
		firestore.Update{Path: "lastError", Value: item.LastError},
	)
	return s.Update(ctx, uid, itemID, updates)
}

// PendingSnapshots watches for pending queue items so non-scheduled
// items (manual, gmail_sync) get picked up immediately after creation
// instead of waiting for the next scheduler tick.
func (s *queueStore) PendingSnapshots(ctx context.Context) *firestore.QuerySnapshotIterator {
	return s.client.CollectionGroup(queueCollection).
		Where("status", "==", models.QueueStatusPending).
		Snapshots(ctx)
}
