package bootstrap

import (
	"context"
	"log/slog"

	"cloud.google.com/go/firestore"
	gcpkms "cloud.google.com/go/kms/apiv1"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/storage"
	"firebase.google.com/go/v4/auth"

	vertex "github.com/felixtosh/taxtool/internal/client/vertex"
	"github.com/felixtosh/taxtool/internal/config"
	"github.com/felixtosh/taxtool/pkg/logger"
)

type Bootstrap struct {
	Log           *slog.Logger
	Firestore     *firestore.Client
	Firebase      *auth.Client
	Storage       *storage.Client
	KMS           *gcpkms.KeyManagementClient
	Secrets       *secretmanager.Client
	VertexAdapter *vertex.Adapter
}

func Run(cfg *config.Config) (*Bootstrap, error) {
	var err error
	applicationCtx := context.Background()
	bs := new(Bootstrap)

	bs.Log = logger.New(cfg.LogLevel, logger.NewCloudRunHandler)
	bs.Firestore, err = InitFirestore(applicationCtx, cfg.ProjectID)
	if err != nil {
		return bs, err
	}
	bs.Firebase, err = InitFirebase(applicationCtx)
	if err != nil {
		return bs, err
	}
	bs.Storage, err = storage.NewClient(applicationCtx)
	if err != nil {
		return bs, err
	}
	bs.KMS, err = gcpkms.NewKeyManagementClient(applicationCtx)
	if err != nil {
		return bs, err
	}
	bs.Secrets, err = secretmanager.NewClient(applicationCtx)
	if err != nil {
		return bs, err
	}
	bs.VertexAdapter, err = vertex.NewAdapter(applicationCtx, bs.Log, cfg.ProjectID, cfg.Region, cfg.VertexModel)
	if err != nil {
		return bs, err
	}

	return bs, nil
}

func (bs *Bootstrap) Close() {
	if bs.VertexAdapter != nil {
		_ = bs.VertexAdapter.Close()
	}
	if bs.Secrets != nil {
		_ = bs.Secrets.Close()
	}
	if bs.KMS != nil {
		_ = bs.KMS.Close()
	}
	if bs.Storage != nil {
		_ = bs.Storage.Close()
	}
	if bs.Firestore != nil {
		_ = bs.Firestore.Close()
	}
}
