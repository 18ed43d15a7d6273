package models

import (
	"time"
)

// Strategy names, in default priority order. Cheap deterministic
// strategies come before the expensive LLM + Gmail ones.
const (
	StrategyPartnerFiles    = "partner_files"
	StrategyAmountFiles     = "amount_files"
	StrategyEmailAttachment = "email_attachment"
	StrategyEmailInvoice    = "email_invoice"
)

// DefaultStrategies returns the full strategy list in priority order.
func DefaultStrategies() []string {
	return []string{
		StrategyPartnerFiles,
		StrategyAmountFiles,
		StrategyEmailAttachment,
		StrategyEmailInvoice,
	}
}

// SearchRecord is the per-transaction audit log for one queue run,
// keyed by queue item id under the transaction.
type SearchRecord struct {
	QueueItemID   string          `firestore:"queueItemId" json:"queueItemId"`
	TransactionID string          `firestore:"transactionId" json:"transactionId"`
	Attempts      []SearchAttempt `firestore:"attempts" json:"attempts"`
	UpdatedAt     time.Time       `firestore:"updatedAt" json:"updatedAt"`
}

// SearchAttempt records one strategy execution, successful or not.
// Immutable once appended.
type SearchAttempt struct {
	Strategy            string    `firestore:"strategy" json:"strategy"`
	Queries             []string  `firestore:"queries" json:"queries,omitempty"`
	CandidatesFound     int       `firestore:"candidatesFound" json:"candidatesFound"`
	CandidatesEvaluated int       `firestore:"candidatesEvaluated" json:"candidatesEvaluated"`
	MatchesFound        int       `firestore:"matchesFound" json:"matchesFound"`
	ConnectedFileIDs    []string  `firestore:"connectedFileIds" json:"connectedFileIds,omitempty"`
	BestScore           int       `firestore:"bestScore" json:"bestScore"`
	LLMCalls            int       `firestore:"llmCalls" json:"llmCalls"`
	LLMTokens           int       `firestore:"llmTokens" json:"llmTokens"`
	Error               string    `firestore:"error" json:"error,omitempty"`
	StartedAt           time.Time `firestore:"startedAt" json:"startedAt"`
	FinishedAt          time.Time `firestore:"finishedAt" json:"finishedAt"`
}
