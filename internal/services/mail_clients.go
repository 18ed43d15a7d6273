package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	gmail "github.com/felixtosh/taxtool/internal/client/gmail"
	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/logger"
)

// MailboxClient is the mailbox surface the email strategies consume.
type MailboxClient interface {
	Account() string
	SearchMessages(ctx context.Context, query, pageToken string) (dto.MessagePage, error)
	GetMessage(ctx context.Context, id string) (*dto.MailMessage, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

type mailClientAccounts interface {
	ListActive(ctx context.Context, uid string) ([]*models.MailAccount, error)
	SetStatus(ctx context.Context, uid, accountID, accountStatus string) error
}

type mailClientSecrets interface {
	GetRefreshToken(ctx context.Context, uid, accountID string) (string, error)
}

type mailClientFactory func(ctx context.Context, account, refreshToken string) (MailboxClient, error)

// mailClientSource turns the user's connected mail accounts into ready
// clients. Accounts whose credentials no longer work are flagged
// needs_reauth and skipped; the slice can legitimately come back empty.
type mailClientSource struct {
	accounts mailClientAccounts
	secrets  mailClientSecrets
	factory  mailClientFactory
}

func NewMailClientSource(accounts mailClientAccounts, secrets mailClientSecrets, oauthCfg *oauth2.Config, minInterval time.Duration) *mailClientSource {
	return &mailClientSource{
		accounts: accounts,
		secrets:  secrets,
		factory: func(ctx context.Context, account, refreshToken string) (MailboxClient, error) {
			return gmail.NewClient(ctx, oauthCfg, account, refreshToken, minInterval)
		},
	}
}

func (s *mailClientSource) Clients(ctx context.Context, uid string) ([]MailboxClient, error) {
	accounts, err := s.accounts.ListActive(ctx, uid)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	var clients []MailboxClient
	for _, account := range accounts {
		token, err := s.secrets.GetRefreshToken(ctx, uid, account.AccountID)
		if err != nil {
			log.Warn("refresh token unavailable", "account", account.Email, "error", err)
			continue
		}
		client, err := s.factory(ctx, account.Email, token)
		if err != nil {
			var expired *errs.AuthExpiredError
			if errors.As(err, &expired) {
				log.Warn("mail account needs reauth", "account", account.Email)
				if serr := s.accounts.SetStatus(ctx, uid, account.AccountID, models.MailAccountNeedsReauth); serr != nil {
					log.Error("failed to flag account for reauth", "account", account.Email, "error", serr)
				}
				continue
			}
			log.Warn("mail client setup failed", "account", account.Email, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}
