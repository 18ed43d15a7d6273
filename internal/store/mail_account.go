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

type mailAccountStore struct {
	client *firestore.Client
}

func NewMailAccountStore(client *firestore.Client) *mailAccountStore {
	return &mailAccountStore{client: client}
}

func (s *mailAccountStore) collection(uid string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(uid).Collection("mail_accounts")
}

func (s *mailAccountStore) Create(ctx context.Context, uid string, acct *models.MailAccount) error {
	_, err := s.collection(uid).Doc(acct.AccountID).Create(ctx, acct)
	if status.Code(err) == codes.AlreadyExists {
		return errs.NewAlreadyExistsError(fmt.Sprintf("mail account %s already connected", acct.Email))
	}
	if err != nil {
		return errs.NewDatabaseError("create", err.Error())
	}
	return nil
}

func (s *mailAccountStore) Delete(ctx context.Context, uid, accountID string) error {
	_, err := s.collection(uid).Doc(accountID).Delete(ctx)
	if err != nil {
		return errs.NewDatabaseError("delete", err.Error())
	}
	return nil
}

func (s *mailAccountStore) Get(ctx context.Context, uid, accountID string) (*models.MailAccount, error) {
	doc, err := s.collection(uid).Doc(accountID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, errs.NewNotFoundError(fmt.Sprintf("mail account %s not found", accountID))
	}
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	var acct models.MailAccount
	if err := doc.DataTo(&acct); err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return &acct, nil
}

func (s *mailAccountStore) List(ctx context.Context, uid string) ([]*models.MailAccount, error) {
	docs, err := s.collection(uid).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return decodeMailAccounts(docs)
}

func (s *mailAccountStore) ListActive(ctx context.Context, uid string) ([]*models.MailAccount, error) {
	docs, err := s.collection(uid).
		Where("status", "==", models.MailAccountActive).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, errs.NewDatabaseError("read", err.Error())
	}
	return decodeMailAccounts(docs)
}

func decodeMailAccounts(docs []*firestore.DocumentSnapshot) ([]*models.MailAccount, error) {
	accounts := make([]*models.MailAccount, 0, len(docs))
	for _, d := range docs {
		var acct models.MailAccount
		if err := d.DataTo(&acct); err != nil {
			return nil, errs.NewDatabaseError("read", err.Error())
		}
		accounts = append(accounts, &acct)
	}
	return accounts, nil
}

// SetStatus flags an account, e.g. needs_reauth after a 401 from Gmail.
func (s *mailAccountStore) SetStatus(ctx context.Context, uid, accountID, accountStatus string) error {
	_, err := s.collection(uid).Doc(accountID).Update(ctx, []firestore.Update{
		{Path: "status", Value: accountStatus},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errs.NewDatabaseError("update", err.Error())
	}
	return nil
}

// IsPaused reports whether the user paused the mail integration. Search
// runs check this before starting and periodically during long loops.
func (s *mailAccountStore) IsPaused(ctx context.Context, uid string) (bool, error) {
	docs, err := s.collection(uid).
		Where("status", "==", models.MailAccountPaused).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return false, errs.NewDatabaseError("read", err.Error())
	}
	return len(docs) > 0, nil
}
