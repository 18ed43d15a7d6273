package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/felixtosh/taxtool/infra/bucket"
	"github.com/felixtosh/taxtool/infra/cloudrun"
	"github.com/felixtosh/taxtool/infra/docker"
	"github.com/felixtosh/taxtool/infra/firestore"
	"github.com/felixtosh/taxtool/infra/identity"
	"github.com/felixtosh/taxtool/infra/kms"
	"github.com/felixtosh/taxtool/infra/provider"
	"github.com/felixtosh/taxtool/infra/secret"
	"github.com/felixtosh/taxtool/infra/vertex"
)

func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		// set default provider with the correct project
		prov, err := provider.SetupDefaultProvider(ctx)
		if err != nil {
			return err
		}

		// enable identity service to allow using firebase
		ident, err := identity.SetupIdentity(ctx)
		if err != nil {
			return err
		}

		// enable firestore and create a database for the project
		err = firestore.SetupFirestore(ctx, prov)
		if err != nil {
			return err
		}

		// enable vertex for query generation and email classification
		err = vertex.SetupVertex(ctx, prov)
		if err != nil {
			return err
		}

		// runtime service account shared by api and worker
		sa, err := cloudrun.CreateServiceAccount(ctx, prov)
		if err != nil {
			return err
		}

		// secret manager holds gmail refresh tokens at runtime
		_, err = secret.SetupSecretManager(ctx, prov, sa)
		if err != nil {
			return err
		}

		// kms key wrapping those tokens
		_, err = kms.SetupKMS(ctx, prov)
		if err != nil {
			return err
		}
		key, err := kms.CreateKey(ctx, prov, "taxtool", "mail-tokens", sa)
		if err != nil {
			return err
		}

		// bucket for ingested receipt files
		files, err := bucket.CreateFilesBucket(ctx, prov, sa)
		if err != nil {
			return err
		}

		// create docker repo
		repo, err := docker.CreateCloudrunRepo(ctx)
		if err != nil {
			return err
		}

		return cloudrun.SetupCloudRun(ctx, prov, sa, files, key, ident, repo)
	})
}
