package services

import (
	"context"
	"testing"

	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/helpers"
)

type scriptedStrategy struct {
	name    string
	attempt models.SearchAttempt
	runs    int
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Run(ctx context.Context, uid string, tx *models.Transaction) models.SearchAttempt {
	s.runs++
	a := s.attempt
	a.Strategy = s.name
	return a
}

type fakeSearchTxStore struct {
	txs  map[string]*models.Transaction
	gets int
}

func (f *fakeSearchTxStore) Get(ctx context.Context, uid, txID string) (*models.Transaction, error) {
	f.gets++
	return f.txs[txID], nil
}

type fakeRecordStore struct {
	attempts []models.SearchAttempt
	records  []*models.SearchRecord
}

func (f *fakeRecordStore) AppendAttempt(ctx context.Context, uid, txID, queueItemID string, attempt models.SearchAttempt) error {
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeRecordStore) ListByTransaction(ctx context.Context, uid, txID string) ([]*models.SearchRecord, error) {
	return f.records, nil
}

func searchTestTx() *models.Transaction {
	return &models.Transaction{TransactionID: "t1", Name: "ACME", Amount: -1000, Date: "2025-05-10"}
}

func TestRunTransactionRunsStrategiesInOrder(t *testing.T) {
	first := &scriptedStrategy{name: models.StrategyPartnerFiles, attempt: models.SearchAttempt{BestScore: 40}}
	second := &scriptedStrategy{name: models.StrategyAmountFiles, attempt: models.SearchAttempt{BestScore: 62, MatchesFound: 1, ConnectedFileIDs: []string{"f1"}}}
	txs := &fakeSearchTxStore{txs: map[string]*models.Transaction{"t1": searchTestTx()}}
	records := &fakeRecordStore{}
	svc := NewSearchService(txs, records, []Strategy{first, second}, 85)

	result, err := svc.RunTransaction(helpers.TestCtx(), "uid-1", searchTestTx(), "q1", []string{models.StrategyPartnerFiles, models.StrategyAmountFiles})
	if err != nil {
		t.Fatal(err)
	}

	if first.runs != 1 || second.runs != 1 {
		t.Fatalf("run counts = %d, %d", first.runs, second.runs)
	}
	if len(records.attempts) != 2 {
		t.Fatalf("every strategy must leave an audit attempt, got %d", len(records.attempts))
	}
	if records.attempts[0].Strategy != models.StrategyPartnerFiles || records.attempts[1].Strategy != models.StrategyAmountFiles {
		t.Fatalf("attempt order wrong: %+v", records.attempts)
	}
	if result.Strategies != 2 || result.MatchesFound != 1 || result.FilesConnected != 1 || result.BestScore != 62 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunTransactionStopsOnStrongMatch(t *testing.T) {
	strong := &scriptedStrategy{name: models.StrategyPartnerFiles, attempt: models.SearchAttempt{BestScore: 92, MatchesFound: 1, ConnectedFileIDs: []string{"f1"}}}
	never := &scriptedStrategy{name: models.StrategyEmailAttachment, attempt: models.SearchAttempt{}}
	txs := &fakeSearchTxStore{txs: map[string]*models.Transaction{"t1": searchTestTx()}}
	records := &fakeRecordStore{}
	svc := NewSearchService(txs, records, []Strategy{strong, never}, 85)

	result, err := svc.RunTransaction(helpers.TestCtx(), "uid-1", searchTestTx(), "q1", []string{models.StrategyPartnerFiles, models.StrategyEmailAttachment})
	if err != nil {
		t.Fatal(err)
	}

	if never.runs != 0 {
		t.Fatal("strong match with a connected file must stop the chain")
	}
	if len(records.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(records.attempts))
	}
	if result.Strategies != 1 || result.BestScore != 92 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunTransactionHighScoreWithoutConnectionContinues(t *testing.T) {
	// A 90 that connected nothing (all candidates rejected) must not end
	// the run.
	highButDry := &scriptedStrategy{name: models.StrategyPartnerFiles, attempt: models.SearchAttempt{BestScore: 90}}
	next := &scriptedStrategy{name: models.StrategyAmountFiles, attempt: models.SearchAttempt{}}
	txs := &fakeSearchTxStore{txs: map[string]*models.Transaction{"t1": searchTestTx()}}
	svc := NewSearchService(txs, &fakeRecordStore{}, []Strategy{highButDry, next}, 85)

	if _, err := svc.RunTransaction(helpers.TestCtx(), "uid-1", searchTestTx(), "q1", []string{models.StrategyPartnerFiles, models.StrategyAmountFiles}); err != nil {
		t.Fatal(err)
	}
	if next.runs != 1 {
		t.Fatal("chain should continue when nothing was connected")
	}
}

func TestRunTransactionStopsWhenCompletedMidRun(t *testing.T) {
	completed := searchTestTx()
	completed.IsComplete = true

	first := &scriptedStrategy{name: models.StrategyPartnerFiles, attempt: models.SearchAttempt{BestScore: 70, MatchesFound: 1, ConnectedFileIDs: []string{"f1"}}}
	second := &scriptedStrategy{name: models.StrategyAmountFiles, attempt: models.SearchAttempt{}}
	txs := &fakeSearchTxStore{txs: map[string]*models.Transaction{"t1": completed}}
	records := &fakeRecordStore{}
	svc := NewSearchService(txs, records, []Strategy{first, second}, 85)

	if _, err := svc.RunTransaction(helpers.TestCtx(), "uid-1", searchTestTx(), "q1", []string{models.StrategyPartnerFiles, models.StrategyAmountFiles}); err != nil {
		t.Fatal(err)
	}

	if first.runs != 1 || second.runs != 0 {
		t.Fatalf("run counts = %d, %d", first.runs, second.runs)
	}
	if txs.gets != 1 {
		t.Fatalf("transaction should be re-read between strategies, gets = %d", txs.gets)
	}
}

func TestRunTransactionSkipsUnknownStrategy(t *testing.T) {
	known := &scriptedStrategy{name: models.StrategyPartnerFiles, attempt: models.SearchAttempt{}}
	txs := &fakeSearchTxStore{txs: map[string]*models.Transaction{"t1": searchTestTx()}}
	records := &fakeRecordStore{}
	svc := NewSearchService(txs, records, []Strategy{known}, 85)

	result, err := svc.RunTransaction(helpers.TestCtx(), "uid-1", searchTestTx(), "q1", []string{"made_up", models.StrategyPartnerFiles})
	if err != nil {
		t.Fatal(err)
	}
	if known.runs != 1 || result.Strategies != 1 {
		t.Fatalf("unknown strategy must be skipped, not fail the run: %+v", result)
	}
	if len(records.attempts) != 1 {
		t.Fatalf("attempts = %d", len(records.attempts))
	}
}
