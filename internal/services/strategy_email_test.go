package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/helpers"
)

type fakeMailClient struct {
	account     string
	pages       map[string]dto.MessagePage
	messages    map[string]*dto.MailMessage
	attachments map[string][]byte

	searchQueries   []string
	getMessageCalls int
	getMessageErr   error
}

func (f *fakeMailClient) Account() string { return f.account }

func (f *fakeMailClient) SearchMessages(ctx context.Context, query, pageToken string) (dto.MessagePage, error) {
	f.searchQueries = append(f.searchQueries, query)
	return f.pages[query], nil
}

func (f *fakeMailClient) GetMessage(ctx context.Context, id string) (*dto.MailMessage, error) {
	f.getMessageCalls++
	if f.getMessageErr != nil {
		return nil, f.getMessageErr
	}
	return f.messages[id], nil
}

func (f *fakeMailClient) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	return f.attachments[messageID+":"+attachmentID], nil
}

type fakeClientSource struct {
	clients []MailboxClient
	err     error
}

func (f *fakeClientSource) Clients(ctx context.Context, uid string) ([]MailboxClient, error) {
	return f.clients, f.err
}

type fakeQueryGen struct {
	queries        []dto.SearchQuery
	classification dto.EmailClassification
}

func (f *fakeQueryGen) GenerateQueries(ctx context.Context, tx *models.Transaction, partner *models.Partner) ([]dto.SearchQuery, dto.LLMUsage) {
	return f.queries, dto.LLMUsage{Calls: 1, Tokens: 50}
}

func (f *fakeQueryGen) ClassifyEmailContent(ctx context.Context, body string, tx *models.Transaction) (dto.EmailClassification, dto.LLMUsage) {
	return f.classification, dto.LLMUsage{Calls: 1, Tokens: 20}
}

type fakeEmailFileStore struct {
	byHash map[string]*models.File
	hinted map[string]*models.PrecisionSearchHint
}

func (f *fakeEmailFileStore) GetByHash(ctx context.Context, uid, hash string) (*models.File, error) {
	if file, ok := f.byHash[hash]; ok {
		return file, nil
	}
	return nil, errs.NewNotFoundError("no file")
}

func (f *fakeEmailFileStore) SetPrecisionHint(ctx context.Context, uid, fileID string, hint *models.PrecisionSearchHint) error {
	if f.hinted == nil {
		f.hinted = make(map[string]*models.PrecisionSearchHint)
	}
	f.hinted[fileID] = hint
	return nil
}

type ingestCall struct {
	filename string
	mimeType string
	src      dto.SourceMetadata
	hint     *models.PrecisionSearchHint
}

type fakeIngester struct {
	calls []ingestCall
}

func (f *fakeIngester) Ingest(ctx context.Context, uid string, data []byte, filename, mimeType string, src dto.SourceMetadata, hint *models.PrecisionSearchHint) (string, error) {
	f.calls = append(f.calls, ingestCall{filename: filename, mimeType: mimeType, src: src, hint: hint})
	return fmt.Sprintf("new-%d", len(f.calls)), nil
}

type fakeRenderer struct {
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, html string, meta dto.RenderMetadata) (dto.RenderResult, error) {
	f.calls++
	return dto.RenderResult{PDF: []byte("rendered:" + html), Pages: 1}, nil
}

type fakePauses struct {
	paused bool
	calls  int
}

func (f *fakePauses) IsPaused(ctx context.Context, uid string) (bool, error) {
	f.calls++
	return f.paused, nil
}

func emailTestTx() *models.Transaction {
	return &models.Transaction{
		TransactionID: "t1",
		Name:          "NETFLIX.COM",
		Amount:        -4999,
		Currency:      "EUR",
		Date:          "2025-03-12",
	}
}

func emailTestMessage(id string, atts ...dto.MailAttachment) *dto.MailMessage {
	return &dto.MailMessage{
		ID:          id,
		Subject:     "Your Netflix receipt",
		From:        "Netflix <info@netflix.com>",
		FromDomain:  "netflix.com",
		Date:        time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC),
		BodyText:    "Thanks for your payment.",
		Attachments: atts,
	}
}

func newAttachmentStrategy(client *fakeMailClient, files *fakeEmailFileStore, ingest *fakeIngester, pauses *fakePauses, cfg StrategyConfig) Strategy {
	return NewEmailAttachmentStrategy(
		&fakeClientSource{clients: []MailboxClient{client}},
		&fakeQueryGen{queries: []dto.SearchQuery{{Query: "from:netflix.com", Type: dto.QueryTypePartner}}},
		files,
		&fakePartnerStore{},
		ingest,
		testScorer(),
		pauses,
		cfg,
	)
}

func TestEmailAttachmentStrategyIngestsMatchingPDF(t *testing.T) {
	pdfAtt := dto.MailAttachment{AttachmentID: "a1", Filename: "receipt.pdf", MimeType: "application/pdf"}
	imgAtt := dto.MailAttachment{AttachmentID: "a2", Filename: "preview.png", MimeType: "image/png"}
	client := &fakeMailClient{
		account:     "me@example.com",
		pages:       map[string]dto.MessagePage{"from:netflix.com has:attachment": {IDs: []string{"m1"}}},
		messages:    map[string]*dto.MailMessage{"m1": emailTestMessage("m1", pdfAtt, imgAtt)},
		attachments: map[string][]byte{"m1:a1": []byte("pdf bytes"), "m1:a2": []byte("png bytes")},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{}}
	ingest := &fakeIngester{}
	s := newAttachmentStrategy(client, files, ingest, &fakePauses{}, strategyTestCfg())

	attempt := s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if len(client.searchQueries) != 1 || client.searchQueries[0] != "from:netflix.com has:attachment" {
		t.Fatalf("mailbox queries = %v", client.searchQueries)
	}
	if len(ingest.calls) != 1 {
		t.Fatalf("expected exactly the PDF ingested, got %d calls", len(ingest.calls))
	}
	call := ingest.calls[0]
	if call.filename != "receipt.pdf" || call.src.SourceType != models.FileSourceGmailAttachment {
		t.Fatalf("unexpected ingest call: %+v", call)
	}
	if call.hint == nil || call.hint.TransactionID != "t1" || call.hint.SearchStrategy != models.StrategyEmailAttachment {
		t.Fatalf("hint missing or wrong: %+v", call.hint)
	}
	if len(attempt.ConnectedFileIDs) != 1 || attempt.ConnectedFileIDs[0] != "new-1" {
		t.Fatalf("ConnectedFileIDs = %v", attempt.ConnectedFileIDs)
	}
	if attempt.LLMCalls != 2 { // query generation + classification
		t.Fatalf("LLMCalls = %d, want 2", attempt.LLMCalls)
	}
}

func TestEmailAttachmentStrategySkipsMailInvoiceWithoutPDF(t *testing.T) {
	imgAtt := dto.MailAttachment{AttachmentID: "a1", Filename: "banner.png", MimeType: "image/png"}
	client := &fakeMailClient{
		pages:       map[string]dto.MessagePage{"from:netflix.com has:attachment": {IDs: []string{"m1"}}},
		messages:    map[string]*dto.MailMessage{"m1": emailTestMessage("m1", imgAtt)},
		attachments: map[string][]byte{"m1:a1": []byte("png bytes")},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{}}
	ingest := &fakeIngester{}
	s := NewEmailAttachmentStrategy(
		&fakeClientSource{clients: []MailboxClient{client}},
		&fakeQueryGen{
			queries:        []dto.SearchQuery{{Query: "from:netflix.com", Type: dto.QueryTypePartner}},
			classification: dto.EmailClassification{IsMailInvoice: true},
		},
		files,
		&fakePartnerStore{},
		ingest,
		testScorer(),
		&fakePauses{},
		strategyTestCfg(),
	)

	attempt := s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if len(ingest.calls) != 0 || attempt.CandidatesEvaluated != 0 {
		t.Fatalf("mail-invoice without PDF belongs to the body strategy: %+v", attempt)
	}
}

func TestEmailAttachmentStrategyHintsExistingFile(t *testing.T) {
	pdfAtt := dto.MailAttachment{AttachmentID: "a1", Filename: "receipt.pdf", MimeType: "application/pdf"}
	data := []byte("known pdf")
	amount := int64(4999)
	client := &fakeMailClient{
		pages:       map[string]dto.MessagePage{"from:netflix.com has:attachment": {IDs: []string{"m1"}}},
		messages:    map[string]*dto.MailMessage{"m1": emailTestMessage("m1", pdfAtt)},
		attachments: map[string][]byte{"m1:a1": data},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{
		contentHash(data): {
			FileID:           "f-existing",
			MimeType:         "application/pdf",
			ExtractedAmount:  &amount,
			ExtractedDate:    "2025-03-12",
			ExtractedPartner: "Netflix",
		},
	}}
	ingest := &fakeIngester{}
	s := newAttachmentStrategy(client, files, ingest, &fakePauses{}, strategyTestCfg())

	attempt := s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if len(ingest.calls) != 0 {
		t.Fatal("existing file must not be re-ingested")
	}
	if files.hinted["f-existing"] == nil {
		t.Fatalf("existing file should receive a hint: %+v", attempt)
	}
}

func TestEmailAttachmentStrategyRespectsRejectedFile(t *testing.T) {
	pdfAtt := dto.MailAttachment{AttachmentID: "a1", Filename: "receipt.pdf", MimeType: "application/pdf"}
	data := []byte("rejected pdf")
	client := &fakeMailClient{
		pages:       map[string]dto.MessagePage{"from:netflix.com has:attachment": {IDs: []string{"m1"}}},
		messages:    map[string]*dto.MailMessage{"m1": emailTestMessage("m1", pdfAtt)},
		attachments: map[string][]byte{"m1:a1": data},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{
		contentHash(data): {FileID: "f-rejected"},
	}}
	ingest := &fakeIngester{}
	s := newAttachmentStrategy(client, files, ingest, &fakePauses{}, strategyTestCfg())

	tx := emailTestTx()
	tx.RejectedFileIDs = []string{"f-rejected"}
	s.Run(helpers.TestCtx(), "uid-1", tx)

	if len(ingest.calls) != 0 || len(files.hinted) != 0 {
		t.Fatal("rejected pairing must be left alone")
	}
}

func TestEmailAttachmentStrategyStopsAfterEnoughGreatMatches(t *testing.T) {
	pdf := func(n int) dto.MailAttachment {
		return dto.MailAttachment{AttachmentID: fmt.Sprintf("a%d", n), Filename: fmt.Sprintf("r%d.pdf", n), MimeType: "application/pdf"}
	}
	client := &fakeMailClient{
		pages: map[string]dto.MessagePage{"from:netflix.com has:attachment": {IDs: []string{"m1", "m2", "m3"}}},
		messages: map[string]*dto.MailMessage{
			"m1": emailTestMessage("m1", pdf(1)),
			"m2": emailTestMessage("m2", pdf(2)),
			"m3": emailTestMessage("m3", pdf(3)),
		},
		attachments: map[string][]byte{
			"m1:a1": []byte("one"), "m2:a2": []byte("two"), "m3:a3": []byte("three"),
		},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{}}
	ingest := &fakeIngester{}

	cfg := strategyTestCfg()
	cfg.GreatMatchThreshold = 60 // email-derived candidates have no amount signal
	s := newAttachmentStrategy(client, files, ingest, &fakePauses{}, cfg)

	s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if client.getMessageCalls != 2 {
		t.Fatalf("scan should stop after %d great matches, fetched %d messages", cfg.GreatMatchLimit, client.getMessageCalls)
	}
	if len(ingest.calls) != 2 {
		t.Fatalf("ingest calls = %d, want 2", len(ingest.calls))
	}
}

func TestEmailAttachmentStrategyPauses(t *testing.T) {
	pdfAtt := dto.MailAttachment{AttachmentID: "a1", Filename: "receipt.pdf", MimeType: "application/pdf"}
	client := &fakeMailClient{
		pages:       map[string]dto.MessagePage{"from:netflix.com has:attachment": {IDs: []string{"m1", "m2"}}},
		messages:    map[string]*dto.MailMessage{"m1": emailTestMessage("m1", pdfAtt)},
		attachments: map[string][]byte{"m1:a1": []byte("pdf")},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{}}

	cfg := strategyTestCfg()
	cfg.PauseCheckInterval = 1
	s := newAttachmentStrategy(client, files, &fakeIngester{}, &fakePauses{paused: true}, cfg)

	s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if client.getMessageCalls != 0 {
		t.Fatal("paused search must stop before fetching messages")
	}
}

func TestEmailAttachmentStrategyNoClients(t *testing.T) {
	s := NewEmailAttachmentStrategy(
		&fakeClientSource{},
		&fakeQueryGen{},
		&fakeEmailFileStore{},
		&fakePartnerStore{},
		&fakeIngester{},
		testScorer(),
		&fakePauses{},
		strategyTestCfg(),
	)

	attempt := s.Run(helpers.TestCtx(), "uid-1", emailTestTx())
	if attempt.Error != "" {
		t.Fatalf("zero connected mailboxes is not an error: %q", attempt.Error)
	}
	if attempt.CandidatesFound != 0 {
		t.Fatalf("attempt should be empty: %+v", attempt)
	}
}

func newInvoiceStrategy(client *fakeMailClient, gen *fakeQueryGen, files *fakeEmailFileStore, partners *fakePartnerStore, renderer *fakeRenderer, ingest *fakeIngester) Strategy {
	return NewEmailInvoiceStrategy(
		&fakeClientSource{clients: []MailboxClient{client}},
		gen,
		files,
		partners,
		renderer,
		ingest,
		testScorer(),
		&fakePauses{},
		strategyTestCfg(),
	)
}

func TestEmailInvoiceStrategyRendersMatchingBody(t *testing.T) {
	msg := emailTestMessage("m1")
	msg.BodyHTML = "<html><body>Netflix invoice 49,99</body></html>"
	client := &fakeMailClient{
		pages:    map[string]dto.MessagePage{"from:netflix.com": {IDs: []string{"m1"}}},
		messages: map[string]*dto.MailMessage{"m1": msg},
	}
	gen := &fakeQueryGen{
		queries:        []dto.SearchQuery{{Query: "from:netflix.com", Type: dto.QueryTypePartner}},
		classification: dto.EmailClassification{IsMailInvoice: true, Confidence: 0.9},
	}
	files := &fakeEmailFileStore{byHash: map[string]*models.File{}}
	renderer := &fakeRenderer{}
	ingest := &fakeIngester{}
	s := newInvoiceStrategy(client, gen, files, &fakePartnerStore{}, renderer, ingest)

	attempt := s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if renderer.calls != 1 {
		t.Fatalf("renderer calls = %d, want 1", renderer.calls)
	}
	if len(ingest.calls) != 1 {
		t.Fatalf("ingest calls = %d, want 1", len(ingest.calls))
	}
	call := ingest.calls[0]
	if call.mimeType != "application/pdf" || call.src.SourceType != models.FileSourceEmailBodyPDF {
		t.Fatalf("unexpected ingest call: %+v", call)
	}
	if call.hint == nil || call.hint.SearchStrategy != models.StrategyEmailInvoice {
		t.Fatalf("hint wrong: %+v", call.hint)
	}
	if len(attempt.ConnectedFileIDs) != 1 {
		t.Fatalf("ConnectedFileIDs = %v", attempt.ConnectedFileIDs)
	}
}

func TestEmailInvoiceStrategySkipsMessagesWithPDF(t *testing.T) {
	pdfAtt := dto.MailAttachment{AttachmentID: "a1", Filename: "r.pdf", MimeType: "application/pdf"}
	msg := emailTestMessage("m1", pdfAtt)
	msg.BodyHTML = "<html>invoice</html>"
	client := &fakeMailClient{
		pages:    map[string]dto.MessagePage{"from:netflix.com": {IDs: []string{"m1"}}},
		messages: map[string]*dto.MailMessage{"m1": msg},
	}
	gen := &fakeQueryGen{
		queries:        []dto.SearchQuery{{Query: "from:netflix.com", Type: dto.QueryTypePartner}},
		classification: dto.EmailClassification{IsMailInvoice: true},
	}
	renderer := &fakeRenderer{}
	ingest := &fakeIngester{}
	s := newInvoiceStrategy(client, gen, &fakeEmailFileStore{}, &fakePartnerStore{}, renderer, ingest)

	s.Run(helpers.TestCtx(), "uid-1", emailTestTx())

	if renderer.calls != 0 || len(ingest.calls) != 0 {
		t.Fatal("messages with PDF attachments belong to the attachment strategy")
	}
}

func TestEmailInvoiceStrategyHarvestsLinksRegardlessOfScore(t *testing.T) {
	msg := emailTestMessage("m1")
	msg.Subject = "Unrelated notification"
	msg.Date = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeMailClient{
		pages:    map[string]dto.MessagePage{"q": {IDs: []string{"m1"}}},
		messages: map[string]*dto.MailMessage{"m1": msg},
	}
	gen := &fakeQueryGen{
		queries: []dto.SearchQuery{{Query: "q", Type: dto.QueryTypeKeyword}},
		classification: dto.EmailClassification{
			HasInvoiceLink: true,
			InvoiceLinks:   []string{"https://billing.example.com/inv/42"},
		},
	}
	partners := &fakePartnerStore{}
	ingest := &fakeIngester{}
	s := newInvoiceStrategy(client, gen, &fakeEmailFileStore{}, partners, &fakeRenderer{}, ingest)

	tx := emailTestTx()
	tx.PartnerID = "p1"
	s.Run(helpers.TestCtx(), "uid-1", tx)

	if len(partners.links) != 1 || partners.links[0] != "https://billing.example.com/inv/42" {
		t.Fatalf("invoice links not harvested: %v", partners.links)
	}
	if len(ingest.calls) != 0 {
		t.Fatal("non-invoice message must not be ingested")
	}
}

func TestInvoiceFilenameTruncatesOnRuneBoundary(t *testing.T) {
	msg := &dto.MailMessage{
		Subject: "Rechnung " + strings.Repeat("ü", 40),
		Date:    time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
	}

	name := invoiceFilename(msg)
	if !utf8.ValidString(name) {
		t.Fatalf("filename contains invalid UTF-8: %q", name)
	}
	if !strings.HasPrefix(name, "2025-03-12 Rechnung ") || !strings.HasSuffix(name, ".pdf") {
		t.Fatalf("unexpected filename shape: %q", name)
	}
}
