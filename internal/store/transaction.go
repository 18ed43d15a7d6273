package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
)

type transactionStore struct {
	client *firestore.Client
}

func NewTransactionStore(client *firestore.Client) *transactionStore {
	return &transactionStore{client: client}
}

func (s *transactionStore) collection(uid string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(uid).Collection("transactions")
}

func (s *transactionStore) Get(ctx context.Context, uid, txID string) (*models.Transaction, error) {
	doc, err := s.collection(uid).Doc(txID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, errs.NewNotFoundError(fmt.Sprintf("transaction %s not found", txID))
	}
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	var tx models.Transaction
	if err := doc.DataTo(&tx); err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return &tx, nil
}

// ListIncomplete pages through receipt-less transactions newest first.
// startAfterID is the resumption cursor: the query resumes strictly
// after that transaction, so an interrupted batch picks up exactly where
// it stopped.
func (s *transactionStore) ListIncomplete(ctx context.Context, uid, startAfterID string, limit int) ([]*models.Transaction, error) {
	query := s.collection(uid).
		Where("isComplete", "==", false).
		OrderBy("date", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(limit)

	if startAfterID != "" {
		cursor, err := s.collection(uid).Doc(startAfterID).Get(ctx)
		if err != nil {
			return nil, errs.NewDatabaseError("read", fmt.Sprintf("cursor transaction %s: %v", startAfterID, err))
		}
		query = query.StartAfter(cursor.Data()["date"], startAfterID)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}

	txs := make([]*models.Transaction, 0, len(docs))
	for _, d := range docs {
		var tx models.Transaction
		if err := d.DataTo(&tx); err != nil {
			return nil, errs.NewDatabaseError("read", err.Error())
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}
