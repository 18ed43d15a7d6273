package dto

// BlobObject is the result of a blob storage upload.
type BlobObject struct {
	Path        string
	DownloadURL string
}

// RenderMetadata is the optional header context passed to the HTML→PDF
// renderer so the rendered page carries the mail provenance.
type RenderMetadata struct {
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
	Date    string `json:"date,omitempty"`
}

// RenderResult is the renderer's output.
type RenderResult struct {
	PDF   []byte
	Pages int
}

// SourceMetadata describes where ingested bytes came from.
type SourceMetadata struct {
	SourceType   string
	SenderDomain string
	MessageID    string
	PartnerID    string
}
