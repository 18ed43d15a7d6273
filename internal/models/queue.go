package models

import (
	"time"
)

// Queue item scopes.
const (
	ScopeSingleTransaction = "single_transaction"
	ScopeAllIncomplete     = "all_incomplete"
)

// Queue item statuses. Completed and failed are terminal.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusPaused     = "paused"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// Queue item trigger sources. Scheduled items are continued in place so
// the next cron tick re-claims them; manual and gmail_sync items are
// deleted and recreated so the creation event re-fires immediately.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerGmailSync = "gmail_sync"
)

// QueueItem is the resumable unit of precision-search work. All progress
// lives on this document: interrupting a batch and resuming from
// LastProcessedTransactionID processes the remaining transactions
// exactly once.
type QueueItem struct {
	QueueItemID   string   `firestore:"queueItemId" json:"queueItemId"`
	UserID        string   `firestore:"userId" json:"userId"`
	Scope         string   `firestore:"scope" json:"scope"`
	TransactionID string   `firestore:"transactionId" json:"transactionId,omitempty"` // single_transaction only
	Strategies    []string `firestore:"strategies" json:"strategies"`
	TriggeredBy   string   `firestore:"triggeredBy" json:"triggeredBy"`
	Status        string   `firestore:"status" json:"status"`

	LastProcessedTransactionID string `firestore:"lastProcessedTransactionId" json:"lastProcessedTransactionId,omitempty"`
	TransactionsProcessed      int    `firestore:"transactionsProcessed" json:"transactionsProcessed"`
	TransactionsMatched        int    `firestore:"transactionsMatched" json:"transactionsMatched"`
	FilesConnected             int    `firestore:"filesConnected" json:"filesConnected"`

	RetryCount int    `firestore:"retryCount" json:"retryCount"`
	MaxRetries int    `firestore:"maxRetries" json:"maxRetries"`
	LastError  string `firestore:"lastError" json:"lastError,omitempty"`

	CreatedAt   time.Time  `firestore:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt" json:"updatedAt"`
	StartedAt   *time.Time `firestore:"startedAt" json:"startedAt,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt" json:"completedAt,omitempty"`
}

// Continuation returns a copy carrying forward counters and cursor for a
// delete-and-recreate continuation under a fresh id.
func (q *QueueItem) Continuation(id string, now time.Time) *QueueItem {
	next := *q
	next.QueueItemID = id
	next.Status = QueueStatusPending
	next.CreatedAt = now
	next.UpdatedAt = now
	next.StartedAt = nil
	next.CompletedAt = nil
	return &next
}
