package services

import (
	"context"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/logger"
)

type searchTxStore interface {
	Get(ctx context.Context, uid, txID string) (*models.Transaction, error)
}

type searchRecordStore interface {
	AppendAttempt(ctx context.Context, uid, txID, queueItemID string, attempt models.SearchAttempt) error
	ListByTransaction(ctx context.Context, uid, txID string) ([]*models.SearchRecord, error)
}

// searchService runs the configured strategies against one transaction
// in order, persisting an audit attempt after every strategy so an
// interrupted run still leaves a complete trail.
type searchService struct {
	transactions searchTxStore
	records      searchRecordStore
	strategies   map[string]Strategy
	strong       int
}

func NewSearchService(transactions searchTxStore, records searchRecordStore, strategies []Strategy, strongThreshold int) *searchService {
	byName := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	return &searchService{
		transactions: transactions,
		records:      records,
		strategies:   byName,
		strong:       strongThreshold,
	}
}

// RunTransaction executes the named strategies for one transaction.
// The transaction is re-read between strategies: a strategy's hints can
// get the transaction connected by the link finalizer while the run is
// still going, and searching a completed transaction is wasted quota.
// A strong match with at least one connected file stops the run early.
func (s *searchService) RunTransaction(ctx context.Context, uid string, tx *models.Transaction, queueItemID string, strategyNames []string) (dto.TxRunResult, error) {
	log := logger.FromContext(ctx)
	var result dto.TxRunResult

	for i, name := range strategyNames {
		strategy, ok := s.strategies[name]
		if !ok {
			log.Warn("unknown search strategy, skipping", "strategy", name)
			continue
		}

		if i > 0 {
			fresh, err := s.transactions.Get(ctx, uid, tx.TransactionID)
			if err != nil {
				return result, err
			}
			tx = fresh
			if tx.IsComplete {
				log.Debug("transaction completed mid-run", "transaction_id", tx.TransactionID)
				break
			}
		}

		attempt := strategy.Run(ctx, uid, tx)
		result.Strategies++
		result.MatchesFound += attempt.MatchesFound
		result.FilesConnected += len(attempt.ConnectedFileIDs)
		if attempt.BestScore > result.BestScore {
			result.BestScore = attempt.BestScore
		}
		if attempt.Error != "" {
			log.Warn("strategy finished with error", "strategy", name, "error", attempt.Error)
		}

		if err := s.records.AppendAttempt(ctx, uid, tx.TransactionID, queueItemID, attempt); err != nil {
			return result, err
		}

		if attempt.BestScore >= s.strong && len(attempt.ConnectedFileIDs) > 0 {
			log.Info("strong match found, stopping strategy chain",
				"transaction_id", tx.TransactionID, "strategy", name, "score", attempt.BestScore)
			break
		}
	}
	return result, nil
}

// History returns the per-run audit records for a transaction, newest
// first.
func (s *searchService) History(ctx context.Context, uid, txID string) ([]*models.SearchRecord, error) {
	return s.records.ListByTransaction(ctx, uid, txID)
}
