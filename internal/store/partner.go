package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
)

type partnerStore struct {
	client *firestore.Client
}

func NewPartnerStore(client *firestore.Client) *partnerStore {
	return &partnerStore{client: client}
}

func (s *partnerStore) collection(uid string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(uid).Collection("partners")
}

func (s *partnerStore) Get(ctx context.Context, uid, partnerID string) (*models.Partner, error) {
	doc, err := s.collection(uid).Doc(partnerID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, errs.NewNotFoundError(fmt.Sprintf("partner %s not found", partnerID))
	}
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	var p models.Partner
	if err := doc.DataTo(&p); err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return &p, nil
}

// AppendInvoiceLinks unions discovered invoice download links onto the
// partner record. Harvested regardless of match score.
func (s *partnerStore) AppendInvoiceLinks(ctx context.Context, uid, partnerID string, links []string) error {
	if len(links) == 0 {
		return nil
	}
	values := make([]any, 0, len(links))
	for _, l := range links {
		values = append(values, l)
	}
	_, err := s.collection(uid).Doc(partnerID).Update(ctx, []firestore.Update{
		{Path: "invoiceLinks", Value: firestore.ArrayUnion(values...)},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errs.NewDatabaseError("update", err.Error())
	}
	return nil
}
