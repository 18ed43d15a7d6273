package models

import (
	"time"
)

// File source types.
const (
	FileSourceUpload          = "upload"
	FileSourceGmailAttachment = "gmail_attachment"
	FileSourceEmailBodyPDF    = "email_body_pdf"
)

// File is a stored receipt document. ContentHash (SHA-256 of the bytes)
// is the dedup key: re-ingesting identical bytes must find the existing
// record instead of creating a second active one. Extracted* fields are
// filled asynchronously by the extraction pipeline.
type File struct {
	FileID      string `firestore:"fileId" json:"fileId"`
	Filename    string `firestore:"filename" json:"filename"`
	MimeType    string `firestore:"mimeType" json:"mimeType"`
	ContentHash string `firestore:"contentHash" json:"contentHash"`
	StoragePath string `firestore:"storagePath" json:"storagePath"`
	DownloadURL string `firestore:"downloadUrl" json:"downloadUrl,omitempty"`
	SourceType  string `firestore:"sourceType" json:"sourceType"`

	// Source mail metadata, present for gmail_attachment and
	// email_body_pdf files.
	SenderDomain string `firestore:"senderDomain" json:"senderDomain,omitempty"`
	MessageID    string `firestore:"messageId" json:"messageId,omitempty"`

	ExtractedAmount   *int64 `firestore:"extractedAmount" json:"extractedAmount,omitempty"` // minor units, absolute
	ExtractedCurrency string `firestore:"extractedCurrency" json:"extractedCurrency,omitempty"`
	ExtractedDate     string `firestore:"extractedDate" json:"extractedDate,omitempty"` // YYYY-MM-DD
	ExtractedPartner  string `firestore:"extractedPartner" json:"extractedPartner,omitempty"`
	ExtractedText     string `firestore:"extractedText" json:"extractedText,omitempty"`
	PartnerID         string `firestore:"partnerId" json:"partnerId,omitempty"`

	TransactionIDs           []string             `firestore:"transactionIds" json:"transactionIds,omitempty"`
	ExtractionComplete       bool                 `firestore:"extractionComplete" json:"extractionComplete"`
	TransactionMatchComplete bool                 `firestore:"transactionMatchComplete" json:"transactionMatchComplete"`
	PrecisionSearchHint      *PrecisionSearchHint `firestore:"precisionSearchHint" json:"precisionSearchHint,omitempty"`

	DeletedAt *time.Time `firestore:"deletedAt" json:"deletedAt,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt" json:"updatedAt"`
}

// PrecisionSearchHint is the non-authoritative annotation a strategy
// writes on a file to propose a transaction link. The link-finalizer
// trigger consumes and clears it; this engine only ever writes it.
type PrecisionSearchHint struct {
	TransactionID  string    `firestore:"transactionId" json:"transactionId"`
	Amount         int64     `firestore:"amount" json:"amount"`
	Date           string    `firestore:"date" json:"date"`
	SearchStrategy string    `firestore:"searchStrategy" json:"searchStrategy"`
	Score          int       `firestore:"score" json:"score"`
	CreatedAt      time.Time `firestore:"createdAt" json:"createdAt"`
}

func (f *File) IsDeleted() bool {
	return f.DeletedAt != nil
}

func (f *File) IsLinked() bool {
	return len(f.TransactionIDs) > 0
}
