package services

import (
	"context"
	"testing"

	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/helpers"
)

type fakeStrategyFileStore struct {
	byPartner []*models.File
	byRange   []*models.File

	hinted    map[string]*models.PrecisionSearchHint
	listCalls int
}

func (f *fakeStrategyFileStore) ListUnlinkedByPartner(ctx context.Context, uid, partnerID string) ([]*models.File, error) {
	f.listCalls++
	return f.byPartner, nil
}

func (f *fakeStrategyFileStore) ListUnlinkedByDateRange(ctx context.Context, uid, from, to string) ([]*models.File, error) {
	f.listCalls++
	return f.byRange, nil
}

func (f *fakeStrategyFileStore) SetPrecisionHint(ctx context.Context, uid, fileID string, hint *models.PrecisionSearchHint) error {
	if f.hinted == nil {
		f.hinted = make(map[string]*models.PrecisionSearchHint)
	}
	f.hinted[fileID] = hint
	return nil
}

type fakePartnerStore struct {
	partner *models.Partner
	links   []string
}

func (f *fakePartnerStore) Get(ctx context.Context, uid, partnerID string) (*models.Partner, error) {
	return f.partner, nil
}

func (f *fakePartnerStore) AppendInvoiceLinks(ctx context.Context, uid, partnerID string, links []string) error {
	f.links = append(f.links, links...)
	return nil
}

func strategyTestCfg() StrategyConfig {
	return StrategyConfig{
		ConnectThreshold:    55,
		GreatMatchThreshold: 80,
		GreatMatchLimit:     2,
		PauseCheckInterval:  10,
	}
}

func fileTestTx() *models.Transaction {
	return &models.Transaction{
		TransactionID: "t1",
		Name:          "ACME GMBH",
		Amount:        -12900,
		Currency:      "EUR",
		Date:          "2025-05-10",
		PartnerID:     "p1",
	}
}

func TestPartnerFilesStrategySkipsWithoutPartner(t *testing.T) {
	files := &fakeStrategyFileStore{}
	s := NewPartnerFilesStrategy(files, &fakePartnerStore{}, testScorer(), strategyTestCfg())

	tx := fileTestTx()
	tx.PartnerID = ""
	attempt := s.Run(helpers.TestCtx(), "uid-1", tx)

	if files.listCalls != 0 {
		t.Fatal("no partner means no file listing")
	}
	if attempt.CandidatesFound != 0 || attempt.MatchesFound != 0 {
		t.Fatalf("attempt should be empty: %+v", attempt)
	}
	if attempt.Strategy != models.StrategyPartnerFiles {
		t.Fatalf("Strategy = %q", attempt.Strategy)
	}
}

func TestPartnerFilesStrategyHintsMatches(t *testing.T) {
	amount := int64(12900)
	files := &fakeStrategyFileStore{byPartner: []*models.File{
		{FileID: "f1", ExtractedAmount: &amount, ExtractedDate: "2025-05-10", ExtractedPartner: "Acme GmbH", MimeType: "application/pdf"},
		{FileID: "f2", ExtractedDate: "2023-01-01", ExtractedPartner: "Someone Else"},
	}}
	partners := &fakePartnerStore{partner: &models.Partner{PartnerID: "p1", Name: "Acme GmbH", EmailDomains: []string{"acme.example"}}}
	s := NewPartnerFilesStrategy(files, partners, testScorer(), strategyTestCfg())

	attempt := s.Run(helpers.TestCtx(), "uid-1", fileTestTx())

	if attempt.CandidatesFound != 2 || attempt.CandidatesEvaluated != 2 {
		t.Fatalf("candidate counters wrong: %+v", attempt)
	}
	if attempt.MatchesFound != 1 || len(attempt.ConnectedFileIDs) != 1 || attempt.ConnectedFileIDs[0] != "f1" {
		t.Fatalf("expected only f1 connected: %+v", attempt)
	}
	hint := files.hinted["f1"]
	if hint == nil || hint.TransactionID != "t1" || hint.SearchStrategy != models.StrategyPartnerFiles {
		t.Fatalf("hint not written correctly: %+v", hint)
	}
	if hint.Score < 55 {
		t.Fatalf("hint score = %d, want at least connect threshold", hint.Score)
	}
}

func TestPartnerFilesStrategyRespectsRejections(t *testing.T) {
	amount := int64(12900)
	files := &fakeStrategyFileStore{byPartner: []*models.File{
		{FileID: "f1", ExtractedAmount: &amount, ExtractedDate: "2025-05-10", ExtractedPartner: "Acme GmbH"},
	}}
	s := NewPartnerFilesStrategy(files, &fakePartnerStore{}, testScorer(), strategyTestCfg())

	tx := fileTestTx()
	tx.RejectedFileIDs = []string{"f1"}
	attempt := s.Run(helpers.TestCtx(), "uid-1", tx)

	if len(files.hinted) != 0 {
		t.Fatalf("rejected file must never be re-hinted: %#v", files.hinted)
	}
	if attempt.CandidatesEvaluated != 0 {
		t.Fatalf("rejected file should be skipped before scoring: %+v", attempt)
	}
}

func TestAmountFilesStrategyCapsConnections(t *testing.T) {
	amount := int64(12900)
	var candidates []*models.File
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		candidates = append(candidates, &models.File{
			FileID:           id,
			ExtractedAmount:  &amount,
			ExtractedDate:    "2025-05-10",
			ExtractedPartner: "Acme GmbH",
		})
	}
	files := &fakeStrategyFileStore{byRange: candidates}
	s := NewAmountFilesStrategy(files, &fakePartnerStore{}, testScorer(), strategyTestCfg())

	attempt := s.Run(helpers.TestCtx(), "uid-1", fileTestTx())

	if attempt.CandidatesFound != 5 {
		t.Fatalf("CandidatesFound = %d", attempt.CandidatesFound)
	}
	if len(attempt.ConnectedFileIDs) != 3 {
		t.Fatalf("amount scan must cap hints at 3, got %v", attempt.ConnectedFileIDs)
	}
}

func TestAmountFilesStrategyInvalidDate(t *testing.T) {
	files := &fakeStrategyFileStore{}
	s := NewAmountFilesStrategy(files, &fakePartnerStore{}, testScorer(), strategyTestCfg())

	tx := fileTestTx()
	tx.Date = "not-a-date"
	attempt := s.Run(helpers.TestCtx(), "uid-1", tx)

	if attempt.Error == "" {
		t.Fatal("invalid transaction date should be recorded on the attempt")
	}
	if files.listCalls != 0 {
		t.Fatal("invalid date must not trigger a range query")
	}
}

func TestDateWindow(t *testing.T) {
	from, to, err := dateWindow("2025-05-10", 90)
	if err != nil {
		t.Fatalf("dateWindow error: %v", err)
	}
	if from != "2025-02-09" || to != "2025-08-08" {
		t.Fatalf("window = [%s, %s]", from, to)
	}
}
