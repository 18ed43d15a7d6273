package services

import (
	"context"
	"time"

	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/logger"
)

// Strategy is one self-contained search/match algorithm. Strategies
// never mutate transactions: results land as precision-search hints on
// file records plus an audit attempt, and the external link finalizer
// does the actual connecting. Errors are recorded on the attempt, not
// returned, so one failing strategy cannot abort the batch.
type Strategy interface {
	Name() string
	Run(ctx context.Context, uid string, tx *models.Transaction) models.SearchAttempt
}

// StrategyConfig carries the tuning knobs shared by all strategies.
type StrategyConfig struct {
	ConnectThreshold    int
	GreatMatchThreshold int
	GreatMatchLimit     int
	PauseCheckInterval  int
}

type hintFileStore interface {
	SetPrecisionHint(ctx context.Context, uid, fileID string, hint *models.PrecisionSearchHint) error
}

type strategyPartnerStore interface {
	Get(ctx context.Context, uid, partnerID string) (*models.Partner, error)
}

func newAttempt(strategy string) models.SearchAttempt {
	return models.SearchAttempt{
		Strategy:  strategy,
		StartedAt: time.Now(),
	}
}

func finishAttempt(a *models.SearchAttempt) models.SearchAttempt {
	a.FinishedAt = time.Now()
	return *a
}

// writeHint attaches the match proposal to the file unless the user
// already rejected this pairing. The rejection gate lives here so no
// strategy can bypass it.
func writeHint(ctx context.Context, files hintFileStore, uid, fileID string, tx *models.Transaction, strategy string, score int) (bool, error) {
	if tx.HasRejected(fileID) {
		logger.FromContext(ctx).Debug("skipping rejected file", "file_id", fileID)
		return false, nil
	}
	hint := &models.PrecisionSearchHint{
		TransactionID:  tx.TransactionID,
		Amount:         tx.Amount,
		Date:           tx.Date,
		SearchStrategy: strategy,
		Score:          score,
		CreatedAt:      time.Now(),
	}
	if err := files.SetPrecisionHint(ctx, uid, fileID, hint); err != nil {
		return false, err
	}
	return true, nil
}

// partnerContext loads the transaction's partner as scoring context;
// a missing partner is not an error.
func partnerContext(ctx context.Context, partners strategyPartnerStore, uid string, tx *models.Transaction) *models.Partner {
	if tx.PartnerID == "" {
		return nil
	}
	partner, err := partners.Get(ctx, uid, tx.PartnerID)
	if err != nil {
		logger.FromContext(ctx).Warn("partner lookup failed", "partner_id", tx.PartnerID, "error", err)
		return nil
	}
	return partner
}

// candidateFromFile maps a file's extracted fields into the scorer's
// view.
func candidateFromFile(f *models.File) ScoreCandidate {
	return ScoreCandidate{
		Amount:       f.ExtractedAmount,
		Date:         f.ExtractedDate,
		PartnerName:  f.ExtractedPartner,
		SenderDomain: f.SenderDomain,
		Text:         f.ExtractedText,
		SourceType:   f.SourceType,
		IsPDF:        f.MimeType == "application/pdf",
	}
}
