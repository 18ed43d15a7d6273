package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/felixtosh/taxtool/internal/blob"
	"github.com/felixtosh/taxtool/internal/bootstrap"
	render "github.com/felixtosh/taxtool/internal/client/render"
	"github.com/felixtosh/taxtool/internal/config"
	"github.com/felixtosh/taxtool/internal/crypto"
	"github.com/felixtosh/taxtool/internal/services"
	"github.com/felixtosh/taxtool/internal/store"
	"github.com/felixtosh/taxtool/pkg/logger"
)

func exitOnError(message string, err error, log *slog.Logger) {
	if err != nil {
		log.Error(message, "error", err)
		os.Exit(1)
	}
}

func main() {
	// bootstrap
	cfg := config.New()
	bs, err := bootstrap.Run(cfg)
	exitOnError("bootstrap failed", err, bs.Log)
	defer bs.Close()

	// helpers
	kmsHelper := crypto.NewKMS(bs.KMS, cfg.KMSKeyName)

	// stores
	tstore := store.NewTransactionStore(bs.Firestore)
	fstore := store.NewFileStore(bs.Firestore)
	pstore := store.NewPartnerStore(bs.Firestore)
	sstore := store.NewSearchStore(bs.Firestore)
	qstore := store.NewQueueStore(bs.Firestore)
	mstore := store.NewMailAccountStore(bs.Firestore)
	msecrets := store.NewMailSecretsStore(bs.Secrets, kmsHelper, cfg.ProjectID)

	// clients
	uploader := blob.NewUploader(bs.Storage, cfg.FilesBucket)
	renderer := render.NewAdapter(cfg.RendererURL)
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
	mailClients := services.NewMailClientSource(mstore, msecrets, oauthCfg, cfg.GmailMinInterval)

	// services
	scorer := services.NewScorer(cfg.ConnectThreshold, cfg.StrongMatchThreshold)
	queryGen := services.NewQueryGenerator(bs.VertexAdapter)
	ingest := services.NewIngestService(fstore, uploader)

	scfg := services.StrategyConfig{
		ConnectThreshold:    cfg.ConnectThreshold,
		GreatMatchThreshold: cfg.GreatMatchThreshold,
		GreatMatchLimit:     cfg.GreatMatchLimit,
		PauseCheckInterval:  cfg.PauseCheckInterval,
	}
	strategies := []services.Strategy{
		services.NewPartnerFilesStrategy(fstore, pstore, scorer, scfg),
		services.NewAmountFilesStrategy(fstore, pstore, scorer, scfg),
		services.NewEmailAttachmentStrategy(mailClients, queryGen, fstore, pstore, ingest, scorer, mstore, scfg),
		services.NewEmailInvoiceStrategy(mailClients, queryGen, fstore, pstore, renderer, ingest, scorer, mstore, scfg),
	}
	seserv := services.NewSearchService(tstore, sstore, strategies, cfg.StrongMatchThreshold)
	qserv := services.NewQueueService(qstore, tstore, seserv, mstore, services.QueueConfig{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	ctx := logger.ToContext(context.Background(), bs.Log)

	// Non-scheduled items should not wait for the next tick: a watch on
	// pending items wakes the drain loop as soon as one appears.
	wake := make(chan struct{}, 1)
	go watchPending(qstore.PendingSnapshots(ctx), wake, bs.Log)

	bs.Log.Info("worker started", "interval", cfg.SchedulerInterval.String())
	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()
	for {
		drain(ctx, qserv, bs.Log)
		select {
		case <-ticker.C:
		case <-wake:
		}
	}
}

type queueTicker interface {
	Tick(ctx context.Context) (bool, error)
}

// drain claims and processes items until the queue is empty. Tick
// errors are logged and draining continues: the failing item has
// already been retried or parked by the queue service.
func drain(ctx context.Context, q queueTicker, log *slog.Logger) {
	for {
		processed, err := q.Tick(ctx)
		if err != nil {
			log.Error("queue tick failed", "error", err)
		}
		if !processed {
			return
		}
	}
}

func watchPending(it *firestore.QuerySnapshotIterator, wake chan<- struct{}, log *slog.Logger) {
	defer it.Stop()
	for {
		if _, err := it.Next(); err != nil {
			log.Error("pending queue watch stopped", "error", err)
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
