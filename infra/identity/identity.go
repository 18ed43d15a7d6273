package identity

import (
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/identityplatform"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// SetupIdentity enables Identity Platform so the api service can verify
// Firebase ID tokens. Email/password is the only sign-in method; Gmail
// access uses its own OAuth flow and is not a sign-in provider here.
func SetupIdentity(ctx *pulumi.Context) (*identityplatform.Config, error) {
	return identityplatform.NewConfig(ctx,
		"identityPlatformConfig",
		&identityplatform.ConfigArgs{
			SignIn: &identityplatform.ConfigSignInArgs{
				Email: &identityplatform.ConfigSignInEmailArgs{
					Enabled: pulumi.Bool(true),
				},
			},
		},
	)
}
