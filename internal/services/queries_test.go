package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/helpers"
)

type fakeVertex struct {
	text   string
	tokens int
	err    error
	calls  int
}

func (f *fakeVertex) GenerateText(ctx context.Context, req dto.VertexGenerateRequest) (dto.VertexGenerateResponse, error) {
	f.calls++
	if f.err != nil {
		return dto.VertexGenerateResponse{}, f.err
	}
	return dto.VertexGenerateResponse{Text: f.text, TokenCount: f.tokens}, nil
}

func queryTestTx() *models.Transaction {
	return &models.Transaction{
		TransactionID: "t1",
		Name:          "HETZNER ONLINE",
		Description:   "Server hosting",
		Reference:     "R0012345",
		Amount:        -4190,
		Currency:      "EUR",
		Date:          "2025-04-02",
	}
}

func TestGenerateQueriesParsesModelOutput(t *testing.T) {
	vx := &fakeVertex{
		text:   "```json\n[{\"query\": \"from:hetzner.com\", \"type\": \"partner\"}, {\"query\": \"R0012345\", \"type\": \"invoice_number\"},]\n```",
		tokens: 120,
	}
	g := NewQueryGenerator(vx)

	got, usage := g.GenerateQueries(helpers.TestCtx(), queryTestTx(), nil)
	want := []dto.SearchQuery{
		{Query: "from:hetzner.com", Type: dto.QueryTypePartner},
		{Query: "R0012345", Type: dto.QueryTypeInvoiceNumber},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GenerateQueries = %#v, want %#v", got, want)
	}
	if usage.Calls != 1 || usage.Tokens != 120 {
		t.Fatalf("usage = %+v, want 1 call / 120 tokens", usage)
	}
}

func TestGenerateQueriesFallsBackOnModelError(t *testing.T) {
	vx := &fakeVertex{err: errors.New("model unavailable")}
	g := NewQueryGenerator(vx)
	tx := queryTestTx()
	partner := &models.Partner{
		Name:         "Hetzner Online GmbH",
		EmailDomains: []string{"hetzner.com"},
		Patterns: []models.SearchPattern{
			{Pattern: "from:hetzner.com subject:(Rechnung)", Confidence: 0.9},
			{Pattern: "hosting unreliable guess", Confidence: 0.2},
		},
	}

	got, usage := g.GenerateQueries(helpers.TestCtx(), tx, partner)
	want := filterQueries(fallbackQueries(tx, partner))
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback mismatch:\n got %#v\nwant %#v", got, want)
	}
	if usage.Calls != 1 {
		t.Fatalf("usage.Calls = %d, want 1", usage.Calls)
	}

	// Learned high-confidence pattern ranks first; the low-confidence
	// one is dropped entirely.
	if got[0].Query != "from:hetzner.com subject:(Rechnung)" || got[0].Type != dto.QueryTypeLearned {
		t.Fatalf("first fallback query = %+v", got[0])
	}
	for _, q := range got {
		if q.Query == "hosting unreliable guess" {
			t.Fatalf("low-confidence pattern leaked into queries: %#v", got)
		}
	}
}

func TestGenerateQueriesFallsBackOnGarbageOutput(t *testing.T) {
	vx := &fakeVertex{text: "I think you should search for the invoice yourself."}
	g := NewQueryGenerator(vx)
	tx := queryTestTx()

	got, _ := g.GenerateQueries(helpers.TestCtx(), tx, nil)
	if len(got) == 0 {
		t.Fatal("expected deterministic fallback queries, got none")
	}
	if !reflect.DeepEqual(got, filterQueries(fallbackQueries(tx, nil))) {
		t.Fatalf("garbage output did not fall back deterministically: %#v", got)
	}
}

func TestFilterQueries(t *testing.T) {
	in := []dto.SearchQuery{
		{Query: "  from:netflix.com  ", Type: dto.QueryTypePartner},
		{Query: "invoice", Type: dto.QueryTypeKeyword},                              // generic single word
		{Query: "FROM:NETFLIX.COM", Type: dto.QueryTypePartner},                     // case dup
		{Query: "a1b2c3d4-0000-1111-2222-333344445555", Type: dto.QueryTypeKeyword}, // uuid reference
		{Query: "order - 12345", Type: dto.QueryTypeInvoiceNumber},
		{Query: "49.99", Type: dto.QueryTypeAmount},
		{Query: "49,99", Type: dto.QueryTypeAmount},
		{Query: "netflix subscription", Type: dto.QueryTypeKeyword},
		{Query: "netflix premium plan", Type: dto.QueryTypeKeyword},
		{Query: "one too many", Type: dto.QueryTypeKeyword},
	}

	got := filterQueries(in)
	want := []dto.SearchQuery{
		{Query: "from:netflix.com", Type: dto.QueryTypePartner},
		{Query: "order-12345", Type: dto.QueryTypeInvoiceNumber},
		{Query: "49.99", Type: dto.QueryTypeAmount},
		{Query: "49,99", Type: dto.QueryTypeAmount},
		{Query: "netflix subscription", Type: dto.QueryTypeKeyword},
		{Query: "netflix premium plan", Type: dto.QueryTypeKeyword},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filterQueries:\n got %#v\nwant %#v", got, want)
	}
}

func TestFallbackQueriesAmountVariants(t *testing.T) {
	tx := queryTestTx()
	got := fallbackQueries(tx, nil)

	var amounts []string
	for _, q := range got {
		if q.Type == dto.QueryTypeAmount {
			amounts = append(amounts, q.Query)
		}
	}
	if !reflect.DeepEqual(amounts, []string{"41.90", "41,90"}) {
		t.Fatalf("amount variants = %v", amounts)
	}
}

func TestClassifyEmailContentFallsBackToHeuristic(t *testing.T) {
	vx := &fakeVertex{err: errors.New("quota")}
	g := NewQueryGenerator(vx)
	body := "Your invoice is ready. Total: 41,90 EUR incl. VAT.\n" +
		"Download: https://billing.example.com/invoice/123.pdf"

	got, usage := g.ClassifyEmailContent(helpers.TestCtx(), body, queryTestTx())
	if !got.IsMailInvoice {
		t.Fatalf("heuristic should flag invoice-dense body: %+v", got)
	}
	if !got.HasInvoiceLink || len(got.InvoiceLinks) != 1 {
		t.Fatalf("heuristic should harvest the invoice link: %+v", got)
	}
	if usage.Calls != 1 {
		t.Fatalf("usage.Calls = %d, want 1", usage.Calls)
	}
}

func TestClassifyEmailContentParsesModelOutput(t *testing.T) {
	vx := &fakeVertex{
		text:   `{"hasInvoiceLink": true, "invoiceLinks": ["https://pay.example.com/inv/1"], "isMailInvoice": false, "confidence": 0.92}`,
		tokens: 40,
	}
	g := NewQueryGenerator(vx)

	got, _ := g.ClassifyEmailContent(helpers.TestCtx(), "some body", queryTestTx())
	if got.IsMailInvoice || !got.HasInvoiceLink || got.Confidence != 0.92 {
		t.Fatalf("classification = %+v", got)
	}
}
