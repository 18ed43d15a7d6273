package bucket

import (
	"fmt"

	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/serviceaccount"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/storage"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// CreateFilesBucket provisions the bucket holding ingested receipt and
// invoice files, with object access for the runtime service account.
func CreateFilesBucket(ctx *pulumi.Context, prov *gcp.Provider, sa *serviceaccount.Account) (*storage.Bucket, error) {
	gcpCfg := config.New(ctx, "gcp")
	projectID := gcpCfg.Require("project")
	region := gcpCfg.Require("region")

	b, err := storage.NewBucket(ctx, "filesBucket", &storage.BucketArgs{
		Name:                     pulumi.String(fmt.Sprintf("%s-files", projectID)),
		Location:                 pulumi.String(region),
		UniformBucketLevelAccess: pulumi.Bool(true),
	},
		pulumi.Provider(prov),
	)
	if err != nil {
		return nil, err
	}

	_, err = storage.NewBucketIAMMember(ctx, "filesBucketAccess", &storage.BucketIAMMemberArgs{
		Bucket: b.Name,
		Role:   pulumi.String("roles/storage.objectAdmin"),
		Member: sa.Email.ApplyT(func(email string) string {
			return fmt.Sprintf("serviceAccount:%s", email)
		}).(pulumi.StringOutput),
	},
		pulumi.Provider(prov),
	)
	if err != nil {
		return nil, err
	}

	return b, nil
}
