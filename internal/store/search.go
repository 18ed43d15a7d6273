package store

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
)

type searchStore struct {
	client *firestore.Client
}

func NewSearchStore(client *firestore.Client) *searchStore {
	return &searchStore{client: client}
}

func (s *searchStore) recordDoc(uid, txID, queueItemID string) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(uid).
		Collection("transactions").Doc(txID).
		Collection("search_records").Doc(queueItemID)
}

// AppendAttempt appends one strategy attempt to the per-transaction
// record for this queue run, creating the record on first use. Attempts
// are immutable once written.
func (s *searchStore) AppendAttempt(ctx context.Context, uid, txID, queueItemID string, attempt models.SearchAttempt) error {
	_, err := s.recordDoc(uid, txID, queueItemID).Set(ctx, map[string]any{
		"queueItemId":   queueItemID,
		"transactionId": txID,
		"attempts":      firestore.ArrayUnion(attempt),
		"updatedAt":     time.Now(),
	}, firestore.MergeAll)
	if err != nil {
		return errs.NewDatabaseError("update", err.Error())
	}
	return nil
}

// ListByTransaction returns the transaction's audit trail, newest run
// first.
func (s *searchStore) ListByTransaction(ctx context.Context, uid, txID string) ([]*models.SearchRecord, error) {
	docs, err := s.client.Collection("users").Doc(uid).
		Collection("transactions").Doc(txID).
		Collection("search_records").
		OrderBy("updatedAt", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}

	records := make([]*models.SearchRecord, 0, len(docs))
	for _, d := range docs {
		var rec models.SearchRecord
		if err := d.DataTo(&rec); err != nil {
			return nil, errs.NewDatabaseError("read", err.Error())
		}
		records = append(records, &rec)
	}
	return records, nil
}
