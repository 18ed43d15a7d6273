package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/logger"
)

type queueItemStore interface {
	Create(ctx context.Context, item *models.QueueItem) error
	Get(ctx context.Context, uid, itemID string) (*models.QueueItem, error)
	Delete(ctx context.Context, uid, itemID string) error
	ClaimOldestPending(ctx context.Context) (*models.QueueItem, error)
	SaveProgress(ctx context.Context, uid, itemID string, item *models.QueueItem) error
	Requeue(ctx context.Context, uid, itemID string, item *models.QueueItem) error
	MarkPaused(ctx context.Context, uid, itemID string, item *models.QueueItem) error
	MarkCompleted(ctx context.Context, uid, itemID string, item *models.QueueItem) error
	MarkFailed(ctx context.Context, uid, itemID string, item *models.QueueItem) error
}

type queueTxStore interface {
	Get(ctx context.Context, uid, txID string) (*models.Transaction, error)
	ListIncomplete(ctx context.Context, uid, startAfterID string, limit int) ([]*models.Transaction, error)
}

type txRunner interface {
	RunTransaction(ctx context.Context, uid string, tx *models.Transaction, queueItemID string, strategyNames []string) (dto.TxRunResult, error)
}

// QueueConfig bounds one processing batch.
type QueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
}

// queueService owns the search queue lifecycle: item creation,
// claiming, batch processing with a deadline, and the
// continuation/retry transitions. All progress is persisted on the
// queue document, so a batch cut off by the deadline resumes from its
// cursor without re-processing transactions.
type queueService struct {
	items        queueItemStore
	transactions queueTxStore
	runner       txRunner
	pauses       pauseChecker
	cfg          QueueConfig

	clockNow func() time.Time
	newID    func() string
}

func NewQueueService(items queueItemStore, transactions queueTxStore, runner txRunner, pauses pauseChecker, cfg QueueConfig) *queueService {
	return &queueService{
		items:        items,
		transactions: transactions,
		runner:       runner,
		pauses:       pauses,
		cfg:          cfg,
		clockNow:     time.Now,
		newID:        uuid.NewString,
	}
}

// TriggerSearch validates and creates a pending queue item. The worker
// picks it up via the pending-items watch or the next scheduler tick.
func (s *queueService) TriggerSearch(ctx context.Context, uid string, req dto.TriggerSearchRequest, trigger string) (*models.QueueItem, error) {
	switch req.Scope {
	case models.ScopeSingleTransaction:
		if req.TransactionID == "" {
			return nil, errs.NewValidationError("transactionId is required for single_transaction scope")
		}
	case models.ScopeAllIncomplete:
	default:
		return nil, errs.NewValidationError(fmt.Sprintf("unknown scope %q", req.Scope))
	}

	strategies := req.Strategies
	if len(strategies) == 0 {
		strategies = models.DefaultStrategies()
	} else {
		known := make(map[string]bool)
		for _, name := range models.DefaultStrategies() {
			known[name] = true
		}
		for _, name := range strategies {
			if !known[name] {
				return nil, errs.NewValidationError(fmt.Sprintf("unknown strategy %q", name))
			}
		}
	}

	now := s.clockNow()
	item := &models.QueueItem{
		QueueItemID:   s.newID(),
		UserID:        uid,
		Scope:         req.Scope,
		TransactionID: req.TransactionID,
		Strategies:    strategies,
		TriggeredBy:   trigger,
		Status:        models.QueueStatusPending,
		MaxRetries:    s.cfg.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("search queued",
		"queue_item_id", item.QueueItemID, "scope", item.Scope, "triggered_by", trigger)
	return item, nil
}

// Resume requeues a paused item so the worker picks it up again.
func (s *queueService) Resume(ctx context.Context, uid, itemID string) (*models.QueueItem, error) {
	item, err := s.items.Get(ctx, uid, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueStatusPaused {
		return nil, errs.NewValidationError(fmt.Sprintf("queue item %s is %s, not paused", itemID, item.Status))
	}
	if err := s.items.Requeue(ctx, uid, itemID, item); err != nil {
		return nil, err
	}
	item.Status = models.QueueStatusPending
	return item, nil
}

// Tick claims and processes at most one queue item. Returns whether an
// item was processed so the worker can drain the queue before sleeping.
func (s *queueService) Tick(ctx context.Context) (bool, error) {
	item, err := s.items.ClaimOldestPending(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	log, ctx := logger.With(ctx,
		"queue_item_id", item.QueueItemID, "user_id", item.UserID, "scope", item.Scope)

	if err := s.process(ctx, item); err != nil {
		log.Error("queue item processing failed", "error", err)
		return true, err
	}
	return true, nil
}

func (s *queueService) process(ctx context.Context, item *models.QueueItem) error {
	log := logger.FromContext(ctx)

	if paused, err := s.pauses.IsPaused(ctx, item.UserID); err == nil && paused {
		log.Info("search paused before batch start")
		return s.items.MarkPaused(ctx, item.UserID, item.QueueItemID, item)
	}

	if item.Scope == models.ScopeSingleTransaction {
		return s.processSingle(ctx, item)
	}
	return s.processBatch(ctx, item)
}

func (s *queueService) processSingle(ctx context.Context, item *models.QueueItem) error {
	tx, err := s.transactions.Get(ctx, item.UserID, item.TransactionID)
	if err != nil {
		return s.fail(ctx, item, err)
	}
	if !tx.IsComplete {
		result, err := s.runner.RunTransaction(ctx, item.UserID, tx, item.QueueItemID, item.Strategies)
		if err != nil {
			return s.fail(ctx, item, err)
		}
		item.TransactionsProcessed++
		if result.MatchesFound > 0 {
			item.TransactionsMatched++
		}
		item.FilesConnected += result.FilesConnected
	}
	item.LastProcessedTransactionID = item.TransactionID
	return s.items.MarkCompleted(ctx, item.UserID, item.QueueItemID, item)
}

func (s *queueService) processBatch(ctx context.Context, item *models.QueueItem) error {
	log := logger.FromContext(ctx)
	deadline := s.clockNow().Add(s.cfg.BatchTimeout)

	for {
		txs, err := s.transactions.ListIncomplete(ctx, item.UserID, item.LastProcessedTransactionID, s.cfg.BatchSize)
		if err != nil {
			return s.fail(ctx, item, err)
		}
		if len(txs) == 0 {
			return s.items.MarkCompleted(ctx, item.UserID, item.QueueItemID, item)
		}

		for _, tx := range txs {
			if s.clockNow().After(deadline) {
				log.Info("batch deadline reached, scheduling continuation",
					"processed", item.TransactionsProcessed)
				return s.continueLater(ctx, item)
			}
			if paused, perr := s.pauses.IsPaused(ctx, item.UserID); perr == nil && paused {
				log.Info("search paused mid-batch", "processed", item.TransactionsProcessed)
				return s.items.MarkPaused(ctx, item.UserID, item.QueueItemID, item)
			}

			result, err := s.runner.RunTransaction(ctx, item.UserID, tx, item.QueueItemID, item.Strategies)
			if err != nil {
				return s.fail(ctx, item, err)
			}
			item.LastProcessedTransactionID = tx.TransactionID
			item.TransactionsProcessed++
			if result.MatchesFound > 0 {
				item.TransactionsMatched++
			}
			item.FilesConnected += result.FilesConnected
		}

		// Cursor and counters are flushed per page so a crash loses at
		// most one page of bookkeeping, never completed search work.
		if err := s.items.SaveProgress(ctx, item.UserID, item.QueueItemID, item); err != nil {
			return err
		}
		if len(txs) < s.cfg.BatchSize {
			return s.items.MarkCompleted(ctx, item.UserID, item.QueueItemID, item)
		}
	}
}

// continueLater hands the remaining work to a fresh claim. Scheduled
// items go back to pending in place: the next cron tick re-claims them.
// Manual and gmail_sync items are deleted and recreated under a new id
// so the pending-items watch fires immediately.
func (s *queueService) continueLater(ctx context.Context, item *models.QueueItem) error {
	if item.TriggeredBy == models.TriggerScheduled {
		return s.items.Requeue(ctx, item.UserID, item.QueueItemID, item)
	}
	if err := s.items.Delete(ctx, item.UserID, item.QueueItemID); err != nil {
		return err
	}
	next := item.Continuation(s.newID(), s.clockNow())
	return s.items.Create(ctx, next)
}

// fail counts the retry and either requeues (same continuation split as
// a timeout) or marks the item failed once retries are exhausted.
func (s *queueService) fail(ctx context.Context, item *models.QueueItem, cause error) error {
	item.RetryCount++
	item.LastError = cause.Error()

	if item.RetryCount > item.MaxRetries {
		logger.FromContext(ctx).Error("queue item failed permanently",
			"retries", item.RetryCount, "error", cause)
		if err := s.items.MarkFailed(ctx, item.UserID, item.QueueItemID, item); err != nil {
			return err
		}
		return cause
	}

	logger.FromContext(ctx).Warn("queue item failed, will retry",
		"retry", item.RetryCount, "max_retries", item.MaxRetries, "error", cause)
	if err := s.continueLater(ctx, item); err != nil {
		return err
	}
	return cause
}
