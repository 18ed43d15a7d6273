package models

import (
	"time"
)

// Partner is a counterparty profile. The matching engine consumes it as
// scoring context and only mutates it to append discovered invoice links.
type Partner struct {
	PartnerID    string          `firestore:"partnerId" json:"partnerId"`
	Name         string          `firestore:"name" json:"name"`
	Aliases      []string        `firestore:"aliases" json:"aliases,omitempty"` // glob patterns
	VatID        string          `firestore:"vatId" json:"vatId,omitempty"`
	IBANs        []string        `firestore:"ibans" json:"ibans,omitempty"`
	EmailDomains []string        `firestore:"emailDomains" json:"emailDomains,omitempty"`
	Website      string          `firestore:"website" json:"website,omitempty"`
	InvoiceLinks []string        `firestore:"invoiceLinks" json:"invoiceLinks,omitempty"`
	Patterns     []SearchPattern `firestore:"searchPatterns" json:"searchPatterns,omitempty"`
	CreatedAt    time.Time       `firestore:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time       `firestore:"updatedAt" json:"updatedAt"`
}

// SearchPattern is a learned mailbox query that found this partner's
// invoices before, with the confidence it earned.
type SearchPattern struct {
	Pattern    string  `firestore:"pattern" json:"pattern"`
	Confidence float64 `firestore:"confidence" json:"confidence"`
}
