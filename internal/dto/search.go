package dto

// Search query types produced by the query generator.
const (
	QueryTypePartner       = "partner"
	QueryTypeAmount        = "amount"
	QueryTypeKeyword       = "keyword"
	QueryTypeInvoiceNumber = "invoice_number"
	QueryTypeLearned       = "learned_pattern"
)

// SearchQuery is one ranked mailbox query.
type SearchQuery struct {
	Query string `json:"query"`
	Type  string `json:"type"`
}

// LLMUsage counts calls and tokens spent by a strategy, for the audit
// record.
type LLMUsage struct {
	Calls  int
	Tokens int
}

// EmailClassification is the LLM's (or the fallback heuristic's) verdict
// on an email body.
type EmailClassification struct {
	HasInvoiceLink bool     `json:"hasInvoiceLink"`
	InvoiceLinks   []string `json:"invoiceLinks"`
	IsMailInvoice  bool     `json:"isMailInvoice"`
	Confidence     float64  `json:"confidence"`
}

// TxRunResult summarizes one orchestrated transaction run.
type TxRunResult struct {
	MatchesFound   int
	FilesConnected int
	BestScore      int
	Strategies     int
}

// TriggerSearchRequest is the HTTP payload for creating a queue item.
type TriggerSearchRequest struct {
	Scope         string   `json:"scope"`
	TransactionID string   `json:"transactionId,omitempty"`
	Strategies    []string `json:"strategies,omitempty"`
}

// TriggerSearchResponse returns the created queue item id.
type TriggerSearchResponse struct {
	QueueItemID string `json:"queueItemId"`
}
