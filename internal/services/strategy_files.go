package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/logger"
)

const (
	partnerFilesWindowDays = 180
	amountFilesWindowDays  = 90
	amountFilesTopN        = 3
)

type strategyFileStore interface {
	hintFileStore
	ListUnlinkedByPartner(ctx context.Context, uid, partnerID string) ([]*models.File, error)
	ListUnlinkedByDateRange(ctx context.Context, uid, from, to string) ([]*models.File, error)
}

// partnerFilesStrategy checks already-ingested unlinked files that
// extraction attributed to the transaction's partner. Cheapest
// strategy, so it runs first; a no-op when the transaction has no
// partner.
type partnerFilesStrategy struct {
	files    strategyFileStore
	partners strategyPartnerStore
	scorer   *Scorer
	cfg      StrategyConfig
}

func NewPartnerFilesStrategy(files strategyFileStore, partners strategyPartnerStore, scorer *Scorer, cfg StrategyConfig) Strategy {
	return &partnerFilesStrategy{files: files, partners: partners, scorer: scorer, cfg: cfg}
}

func (s *partnerFilesStrategy) Name() string { return models.StrategyPartnerFiles }

func (s *partnerFilesStrategy) Run(ctx context.Context, uid string, tx *models.Transaction) models.SearchAttempt {
	attempt := newAttempt(s.Name())
	if tx.PartnerID == "" {
		return finishAttempt(&attempt)
	}

	partner := partnerContext(ctx, s.partners, uid, tx)
	files, err := s.files.ListUnlinkedByPartner(ctx, uid, tx.PartnerID)
	if err != nil {
		attempt.Error = err.Error()
		return finishAttempt(&attempt)
	}
	attempt.CandidatesFound = len(files)

	for _, f := range files {
		if tx.HasRejected(f.FileID) {
			continue
		}
		attempt.CandidatesEvaluated++
		ms := s.scorer.Score(candidateFromFile(f), tx, partner, partnerFilesWindowDays)
		if ms.Score > attempt.BestScore {
			attempt.BestScore = ms.Score
		}
		if ms.Score < s.cfg.ConnectThreshold {
			continue
		}
		ok, err := writeHint(ctx, s.files, uid, f.FileID, tx, s.Name(), ms.Score)
		if err != nil {
			attempt.Error = err.Error()
			continue
		}
		if ok {
			attempt.MatchesFound++
			attempt.ConnectedFileIDs = append(attempt.ConnectedFileIDs, f.FileID)
		}
	}
	return finishAttempt(&attempt)
}

// amountFilesStrategy scans unlinked files whose extracted date falls
// near the transaction date and keeps the best few above threshold.
// Unlike the partner strategy it considers files from any sender, so
// it caps how many hints one transaction can claim.
type amountFilesStrategy struct {
	files    strategyFileStore
	partners strategyPartnerStore
	scorer   *Scorer
	cfg      StrategyConfig
}

func NewAmountFilesStrategy(files strategyFileStore, partners strategyPartnerStore, scorer *Scorer, cfg StrategyConfig) Strategy {
	return &amountFilesStrategy{files: files, partners: partners, scorer: scorer, cfg: cfg}
}

func (s *amountFilesStrategy) Name() string { return models.StrategyAmountFiles }

func (s *amountFilesStrategy) Run(ctx context.Context, uid string, tx *models.Transaction) models.SearchAttempt {
	attempt := newAttempt(s.Name())

	from, to, err := dateWindow(tx.Date, amountFilesWindowDays)
	if err != nil {
		attempt.Error = fmt.Sprintf("invalid transaction date %q: %v", tx.Date, err)
		return finishAttempt(&attempt)
	}

	partner := partnerContext(ctx, s.partners, uid, tx)
	files, err := s.files.ListUnlinkedByDateRange(ctx, uid, from, to)
	if err != nil {
		attempt.Error = err.Error()
		return finishAttempt(&attempt)
	}
	attempt.CandidatesFound = len(files)

	type scored struct {
		file  *models.File
		score int
	}
	var candidates []scored
	for _, f := range files {
		if tx.HasRejected(f.FileID) {
			continue
		}
		attempt.CandidatesEvaluated++
		ms := s.scorer.Score(candidateFromFile(f), tx, partner, amountFilesWindowDays)
		if ms.Score > attempt.BestScore {
			attempt.BestScore = ms.Score
		}
		if ms.Score >= s.cfg.ConnectThreshold {
			candidates = append(candidates, scored{file: f, score: ms.Score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > amountFilesTopN {
		candidates = candidates[:amountFilesTopN]
	}

	for _, c := range candidates {
		ok, err := writeHint(ctx, s.files, uid, c.file.FileID, tx, s.Name(), c.score)
		if err != nil {
			attempt.Error = err.Error()
			continue
		}
		if ok {
			attempt.MatchesFound++
			attempt.ConnectedFileIDs = append(attempt.ConnectedFileIDs, c.file.FileID)
		}
	}
	if attempt.Error != "" {
		logger.FromContext(ctx).Warn("amount file scan finished with errors", "error", attempt.Error)
	}
	return finishAttempt(&attempt)
}

// dateWindow expands an ISO date into [date-days, date+days].
func dateWindow(date string, days int) (string, string, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", "", err
	}
	span := time.Duration(days) * 24 * time.Hour
	return d.Add(-span).Format("2006-01-02"), d.Add(span).Format("2006-01-02"), nil
}
