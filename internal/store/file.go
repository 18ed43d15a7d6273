package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
)

type fileStore struct {
	client *firestore.Client
}

func NewFileStore(client *firestore.Client) *fileStore {
	return &fileStore{client: client}
}

func (s *fileStore) collection(uid string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(uid).Collection("files")
}

func (s *fileStore) Get(ctx context.Context, uid, fileID string) (*models.File, error) {
	doc, err := s.collection(uid).Doc(fileID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, errs.NewNotFoundError(fmt.Sprintf("file %s not found", fileID))
	}
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	var f models.File
	if err := doc.DataTo(&f); err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return &f, nil
}

// GetByHash looks up a file by content hash, soft-deleted records
// included so ingestion can take the undelete path.
func (s *fileStore) GetByHash(ctx context.Context, uid, hash string) (*models.File, error) {
	iter := s.collection(uid).Where("contentHash", "==", hash).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, errs.NewNotFoundError(fmt.Sprintf("no file with hash %s", hash))
	}
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	var f models.File
	if err := doc.DataTo(&f); err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return &f, nil
}

func (s *fileStore) Create(ctx context.Context, uid string, f *models.File) error {
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if _, err := s.collection(uid).Doc(f.FileID).Create(ctx, f); err != nil {
		return errs.NewDatabaseError("create", err.Error())
	}
	return nil
}

// ListUnlinkedByPartner returns extraction-complete, unlinked, active
// files already tagged with the partner.
func (s *fileStore) ListUnlinkedByPartner(ctx context.Context, uid, partnerID string) ([]*models.File, error) {
	query := s.collection(uid).
		Where("partnerId", "==", partnerID).
		Where("extractionComplete", "==", true).
		Where("transactionMatchComplete", "==", false)
	return s.listUnlinked(ctx, query)
}

// ListUnlinkedByDateRange returns extraction-complete, unlinked, active
// files whose extracted date falls inside [from, to], any partner.
func (s *fileStore) ListUnlinkedByDateRange(ctx context.Context, uid, from, to string) ([]*models.File, error) {
	query := s.collection(uid).
		Where("extractionComplete", "==", true).
		Where("transactionMatchComplete", "==", false).
		Where("extractedDate", ">=", from).
		Where("extractedDate", "<=", to)
	return s.listUnlinked(ctx, query)
}

func (s *fileStore) listUnlinked(ctx context.Context, query firestore.Query) ([]*models.File, error) {
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}

	files := make([]*models.File, 0, len(docs))
	for _, d := range docs {
		var f models.File
		if err := d.DataTo(&f); err != nil {
			return nil, errs.NewDatabaseError("read", err.Error())
		}
		// Linkage and soft-delete are filtered client side; Firestore
		// can't express "array is empty" in a query.
		if f.IsDeleted() || f.IsLinked() {
			continue
		}
		files = append(files, &f)
	}
	return files, nil
}

// SetPrecisionHint writes the match proposal as targeted field updates.
// Files and transactions are shared with other writers, so whole-document
// overwrites are never used here.
func (s *fileStore) SetPrecisionHint(ctx context.Context, uid, fileID string, hint *models.PrecisionSearchHint) error {
	_, err := s.collection(uid).Doc(fileID).Update(ctx, []firestore.Update{
		{Path: "precisionSearchHint", Value: hint},
		{Path: "transactionMatchComplete", Value: false},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errs.NewDatabaseError("update", err.Error())
	}
	return nil
}

// Undelete revives a soft-deleted file whose content hash reappeared:
// clears deletedAt, refreshes name/type/hint and forces re-extraction.
func (s *fileStore) Undelete(ctx context.Context, uid, fileID, filename, mimeType string, hint *models.PrecisionSearchHint) error {
	updates := []firestore.Update{
		{Path: "deletedAt", Value: firestore.Delete},
		{Path: "filename", Value: filename},
		{Path: "mimeType", Value: mimeType},
		{Path: "extractionComplete", Value: false},
		{Path: "transactionMatchComplete", Value: false},
		{Path: "updatedAt", Value: time.Now()},
	}
	if hint != nil {
		updates = append(updates, firestore.Update{Path: "precisionSearchHint", Value: hint})
	}
	if _, err := s.collection(uid).Doc(fileID).Update(ctx, updates); err != nil {
		return errs.NewDatabaseError("update", err.Error())
	}
	return nil
}
