package models

import (
	"time"
)

// Mail account statuses. needs_reauth is set when Gmail returns a
// 401-equivalent; paused is a user action and suspends search runs
// gracefully rather than failing them.
const (
	MailAccountActive      = "active"
	MailAccountPaused      = "paused"
	MailAccountNeedsReauth = "needs_reauth"
)

// MailAccount is a connected Gmail integration. The OAuth refresh token
// lives in Secret Manager, KMS-wrapped; exchange to access tokens is
// refresh-or-fail, never retried in a loop.
type MailAccount struct {
	AccountID    string    `firestore:"accountId" json:"accountId"`
	Email        string    `firestore:"email" json:"email"`
	Status       string    `firestore:"status" json:"status"`
	LastSyncedAt time.Time `firestore:"lastSyncedAt" json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updatedAt"`
}
