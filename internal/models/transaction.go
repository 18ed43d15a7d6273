package models

import (
	"time"
)

// Transaction is one bank-ledger line. Amount is in signed minor units
// (cents); negative amounts are outgoing. The matching engine never
// deletes transactions and only ever touches targeted fields.
type Transaction struct {
	TransactionID   string    `firestore:"transactionId" json:"transactionId"`
	SourceID        string    `firestore:"sourceId" json:"sourceId"` // owning bank-account source
	Name            string    `firestore:"name" json:"name"`
	Description     string    `firestore:"description" json:"description,omitempty"`
	Reference       string    `firestore:"reference" json:"reference,omitempty"`
	Amount          int64     `firestore:"amount" json:"amount"`
	Currency        string    `firestore:"currency" json:"currency"`
	Date            string    `firestore:"date" json:"date"` // YYYY-MM-DD
	PartnerID       string    `firestore:"partnerId" json:"partnerId,omitempty"`
	IsComplete      bool      `firestore:"isComplete" json:"isComplete"`
	FileIDs         []string  `firestore:"fileIds" json:"fileIds,omitempty"`
	RejectedFileIDs []string  `firestore:"rejectedFileIds" json:"rejectedFileIds,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// HasRejected reports whether the user previously unlinked the file from
// this transaction. Rejected files must never be re-suggested.
func (t *Transaction) HasRejected(fileID string) bool {
	for _, id := range t.RejectedFileIDs {
		if id == fileID {
			return true
		}
	}
	return false
}
