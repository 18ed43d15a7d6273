package main

import (
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/felixtosh/taxtool/internal/blob"
	"github.com/felixtosh/taxtool/internal/bootstrap"
	render "github.com/felixtosh/taxtool/internal/client/render"
	"github.com/felixtosh/taxtool/internal/config"
	"github.com/felixtosh/taxtool/internal/crypto"
	"github.com/felixtosh/taxtool/internal/handlers"
	"github.com/felixtosh/taxtool/internal/response"
	"github.com/felixtosh/taxtool/internal/router"
	"github.com/felixtosh/taxtool/internal/services"
	"github.com/felixtosh/taxtool/internal/store"
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
	mailserv := services.NewMailAccountService(mstore, msecrets, oauthCfg)
	qserv := services.NewQueueService(qstore, tstore, seserv, mstore, services.QueueConfig{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	// response handler
	rh := response.New(bs.Log)

	// dependancies
	deps := new(handlers.Deps)
	deps.Log = bs.Log
	deps.ResponseHandler = rh
	deps.Firebase = bs.Firebase
	deps.QueueSvc = qserv
	deps.SearchSvc = seserv
	deps.MailSvc = mailserv
	deps.MailHookKey = cfg.MailHookKey

	// router
	r := router.NewRouter(deps)
	err = http.ListenAndServe(":8080", r)
	exitOnError("server start failed", err, bs.Log)
}
