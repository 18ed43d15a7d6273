package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
)

type mailAccountRecords interface {
	Create(ctx context.Context, uid string, acct *models.MailAccount) error
	Get(ctx context.Context, uid, accountID string) (*models.MailAccount, error)
	List(ctx context.Context, uid string) ([]*models.MailAccount, error)
	Delete(ctx context.Context, uid, accountID string) error
	SetStatus(ctx context.Context, uid, accountID, accountStatus string) error
}

type mailAccountSecrets interface {
	StoreRefreshToken(ctx context.Context, uid, accountID, token string) error
	DeleteRefreshToken(ctx context.Context, uid, accountID string) error
}

type codeExchanger func(ctx context.Context, code string) (string, error)

// mailAccountService manages the Gmail integration lifecycle: connect
// exchanges the consent code and stores the refresh token, disconnect
// removes both the token and the account record.
type mailAccountService struct {
	accounts mailAccountRecords
	secrets  mailAccountSecrets
	exchange codeExchanger

	clockNow func() time.Time
	newID    func() string
}

func NewMailAccountService(accounts mailAccountRecords, secrets mailAccountSecrets, oauthCfg *oauth2.Config) *mailAccountService {
	return &mailAccountService{
		accounts: accounts,
		secrets:  secrets,
		exchange: func(ctx context.Context, code string) (string, error) {
			tok, err := oauthCfg.Exchange(ctx, code)
			if err != nil {
				return "", errs.NewExternalServiceError("gmail", err.Error(), false)
			}
			if tok.RefreshToken == "" {
				// Google omits the refresh token when the user was
				// already granted; the frontend must request
				// access_type=offline with prompt=consent.
				return "", errs.NewValidationError("authorization grant did not include a refresh token")
			}
			return tok.RefreshToken, nil
		},
		clockNow: time.Now,
		newID:    uuid.NewString,
	}
}

func (s *mailAccountService) List(ctx context.Context, uid string) ([]*models.MailAccount, error) {
	return s.accounts.List(ctx, uid)
}

// Connect exchanges the authorization code, stores the refresh token
// and creates the account record as active. The token is written
// first; a failed record write rolls the token back so no secret is
// left without an owning account.
func (s *mailAccountService) Connect(ctx context.Context, uid string, req dto.ConnectMailAccountRequest) (*models.MailAccount, error) {
	if req.Email == "" {
		return nil, errs.NewValidationError("email is required")
	}
	if req.Code == "" {
		return nil, errs.NewValidationError("code is required")
	}

	refreshToken, err := s.exchange(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	now := s.clockNow()
	acct := &models.MailAccount{
		AccountID: s.newID(),
		Email:     req.Email,
		Status:    models.MailAccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.secrets.StoreRefreshToken(ctx, uid, acct.AccountID, refreshToken); err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, uid, acct); err != nil {
		_ = s.secrets.DeleteRefreshToken(ctx, uid, acct.AccountID)
		return nil, err
	}
	return acct, nil
}

// Disconnect deletes the refresh token and the account record.
func (s *mailAccountService) Disconnect(ctx context.Context, uid, accountID string) error {
	if _, err := s.accounts.Get(ctx, uid, accountID); err != nil {
		return err
	}
	if err := s.secrets.DeleteRefreshToken(ctx, uid, accountID); err != nil {
		return err
	}
	return s.accounts.Delete(ctx, uid, accountID)
}

// Pause suspends search runs for the user without touching the stored
// token. Running batches park at their cursor on the next pause check.
func (s *mailAccountService) Pause(ctx context.Context, uid, accountID string) error {
	if _, err := s.accounts.Get(ctx, uid, accountID); err != nil {
		return err
	}
	return s.accounts.SetStatus(ctx, uid, accountID, models.MailAccountPaused)
}

// Resume reactivates a paused account. needs_reauth accounts cannot be
// resumed; they need a fresh connect.
func (s *mailAccountService) Resume(ctx context.Context, uid, accountID string) error {
	acct, err := s.accounts.Get(ctx, uid, accountID)
	if err != nil {
		return err
	}
	if acct.Status == models.MailAccountNeedsReauth {
		return errs.NewValidationError("account needs reauthorization, reconnect it instead")
	}
	return s.accounts.SetStatus(ctx, uid, accountID, models.MailAccountActive)
}
