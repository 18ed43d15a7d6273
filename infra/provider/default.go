package provider

import (
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// SetupDefaultProvider pins every resource to the stack's project and
// region from Pulumi config.
func SetupDefaultProvider(ctx *pulumi.Context) (*gcp.Provider, error) {
	gcpCfg := config.New(ctx, "gcp")

	return gcp.NewProvider(ctx, "gcpProvider", &gcp.ProviderArgs{
		Project:             pulumi.String(gcpCfg.Require("project")),
		Region:              pulumi.String(gcpCfg.Require("region")),
		UserProjectOverride: pulumi.Bool(true),
	})
}
