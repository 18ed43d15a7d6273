package cloudrun

import (
	"fmt"
	"strconv"

	"github.com/pulumi/pulumi-docker/sdk/v4/go/docker"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/cloudrun"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/projects"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/serviceaccount"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/storage"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"

	"github.com/felixtosh/taxtool/infra/common"
	"github.com/felixtosh/taxtool/infra/secret"
)

type secretRefs struct {
	gmailClientSecretName pulumi.StringOutput
	mailHookKeyName       pulumi.StringOutput
}

// CreateServiceAccount provisions the runtime service account shared by
// the api and worker services, with Firestore access.
func CreateServiceAccount(ctx *pulumi.Context, prov *gcp.Provider) (*serviceaccount.Account, error) {
	gcpCfg := config.New(ctx, "gcp")
	projectID := gcpCfg.Require("project")

	sa, err := serviceaccount.NewAccount(ctx, "runtimeServiceAccount", &serviceaccount.AccountArgs{
		AccountId:   pulumi.String("taxtool-runtime"),
		DisplayName: pulumi.String("Taxtool Runtime Service Account"),
	},
		pulumi.Provider(prov),
	)
	if err != nil {
		return nil, err
	}

	_, err = projects.NewIAMMember(ctx, "firestoreAccess", &projects.IAMMemberArgs{
		Role: pulumi.String("roles/datastore.user"), // Firestore read/write
		Member: sa.Email.ApplyT(func(email string) string {
			return fmt.Sprintf("serviceAccount:%s", email)
		}).(pulumi.StringOutput),
		Project: pulumi.String(projectID),
	},
		pulumi.Provider(prov),
	)
	if err != nil {
		return nil, err
	}

	return sa, nil
}

// SetupCloudRun builds and deploys both services: the public api and
// the internal queue worker.
func SetupCloudRun(ctx *pulumi.Context,
	prov *gcp.Provider,
	sa *serviceaccount.Account,
	filesBucket *storage.Bucket,
	kmsKey pulumi.StringOutput,
	res ...pulumi.Resource) error {

	apiImg, err := buildImage(ctx, "apiImage", "../cmd/api/Dockerfile", "taxtool-api", res...)
	if err != nil {
		return err
	}
	workerImg, err := buildImage(ctx, "workerImage", "../cmd/worker/Dockerfile", "taxtool-worker", res...)
	if err != nil {
		return err
	}

	sr, err := createSecrets(ctx)
	if err != nil {
		return err
	}

	srv, err := enableCloudRun(ctx, prov)
	if err != nil {
		return err
	}

	apiSvc, err := createService(ctx, "apiService", apiImg, sa, sr, filesBucket, kmsKey, false, prov, srv)
	if err != nil {
		return err
	}
	// The worker holds the queue drain loop, so it must not be scaled
	// to zero or CPU-throttled between requests.
	if _, err := createService(ctx, "workerService", workerImg, sa, sr, filesBucket, kmsKey, true, prov, srv); err != nil {
		return err
	}

	return setIAMAccessPolicy(ctx, apiSvc, prov)
}

func buildImage(ctx *pulumi.Context, name, dockerfile, image string, res ...pulumi.Resource) (*docker.Image, error) {
	gcpCfg := config.New(ctx, "gcp")
	projectID := gcpCfg.Require("project")
	region := gcpCfg.Require("region")

	hash, err := common.GenerateHash("../")
	if err != nil {
		return nil, err
	}

	return docker.NewImage(ctx, name, &docker.ImageArgs{
		Build: docker.DockerBuildArgs{
			Platform:   pulumi.String("linux/amd64"),
			Context:    pulumi.String(".."), // build from repo root
			Dockerfile: pulumi.String(dockerfile),
		},
		ImageName: pulumi.String(fmt.Sprintf("%s-docker.pkg.dev/%s/taxtool/%s:%s", region, projectID, image, hash)),
	},
		pulumi.DependsOn(res),
	)
}

func enableCloudRun(ctx *pulumi.Context, prov *gcp.Provider) (*projects.Service, error) {
	return projects.NewService(ctx, "cloudRunService", &projects.ServiceArgs{
		Service: pulumi.String("run.googleapis.com"),
	},
		pulumi.Provider(prov),
	)
}

func createService(ctx *pulumi.Context,
	name string,
	img *docker.Image,
	sa *serviceaccount.Account,
	sr *secretRefs,
	filesBucket *storage.Bucket,
	kmsKey pulumi.StringOutput,
	alwaysOn bool,
	prov *gcp.Provider,
	res ...pulumi.Resource) (*cloudrun.Service, error) {
	gcpCfg := config.New(ctx, "gcp")
	crCfg := config.New(ctx, "cloudrun")
	appCfg := config.New(ctx, "app")

	projectID := gcpCfg.Require("project")
	region := gcpCfg.Require("region")
	maxScale := crCfg.Require("maxScale")
	cpu := crCfg.Require("cpu")
	memory := crCfg.Require("memory")
	concurrency := crCfg.Require("concurrency")
	logLevel := crCfg.Require("logLevel")
	timeout, _ := strconv.Atoi(crCfg.Require("timeout"))

	minScale := crCfg.Require("minScale")
	throttle := "true"
	if alwaysOn {
		minScale = "1"
		throttle = "false"
	}

	return cloudrun.NewService(ctx, name, &cloudrun.ServiceArgs{
		Location: pulumi.String(region),

		Template: &cloudrun.ServiceTemplateArgs{

			Metadata: &cloudrun.ServiceTemplateMetadataArgs{
				// ---- AUTOSCALING + INSTANCE SIZE ----
				Annotations: pulumi.StringMap{
					// Enable Identity Platform (Firebase) authentication
					"run.googleapis.com/launch-stage":      pulumi.String("BETA"),
					"run.googleapis.com/identity-provider": pulumi.String("firebase"),

					// Autoscaling bounds
					"autoscaling.knative.dev/minScale": pulumi.String(minScale),
					"autoscaling.knative.dev/maxScale": pulumi.String(maxScale),

					// Instance sizing
					"run.googleapis.com/cpu":    pulumi.String(cpu),
					"run.googleapis.com/memory": pulumi.String(memory),

					"run.googleapis.com/cpu-throttling": pulumi.String(throttle),

					// Set the number of concurrent requests per container
					"run.googleapis.com/container-concurrency": pulumi.String(concurrency),
				},
			},

			Spec: &cloudrun.ServiceTemplateSpecArgs{
				ServiceAccountName: sa.Email,
				TimeoutSeconds:     pulumi.Int(timeout),

				Containers: cloudrun.ServiceTemplateSpecContainerArray{
					&cloudrun.ServiceTemplateSpecContainerArgs{
						Image: img.ImageName,
						Ports: cloudrun.ServiceTemplateSpecContainerPortArray{
							&cloudrun.ServiceTemplateSpecContainerPortArgs{
								ContainerPort: pulumi.Int(8080),
							},
						},
						Envs: cloudrun.ServiceTemplateSpecContainerEnvArray{
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("PROJECTID"),
								Value: pulumi.String(projectID),
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("REGION"),
								Value: pulumi.String(region),
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("LOGLEVEL"),
								Value: pulumi.String(logLevel),
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("FILESBUCKET"),
								Value: filesBucket.Name,
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("KMSKEYNAME"),
								Value: kmsKey,
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("VERTEXMODEL"),
								Value: pulumi.String(appCfg.Require("vertexModel")),
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("RENDERERURL"),
								Value: pulumi.String(appCfg.Require("rendererUrl")),
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name:  pulumi.String("GMAILCLIENTID"),
								Value: pulumi.String(appCfg.Require("gmailClientId")),
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name: pulumi.String("GMAILCLIENTSECRET"),
								ValueFrom: &cloudrun.ServiceTemplateSpecContainerEnvValueFromArgs{
									SecretKeyRef: &cloudrun.ServiceTemplateSpecContainerEnvValueFromSecretKeyRefArgs{
										Name: sr.gmailClientSecretName,
										Key:  pulumi.String("latest"),
									},
								},
							},
							&cloudrun.ServiceTemplateSpecContainerEnvArgs{
								Name: pulumi.String("MAILHOOKKEY"),
								ValueFrom: &cloudrun.ServiceTemplateSpecContainerEnvValueFromArgs{
									SecretKeyRef: &cloudrun.ServiceTemplateSpecContainerEnvValueFromSecretKeyRefArgs{
										Name: sr.mailHookKeyName,
										Key:  pulumi.String("latest"),
									},
								},
							},
						},
					},
				},
			},
		},
	},
		pulumi.Provider(prov),
		pulumi.DependsOn(res),
	)
}

func setIAMAccessPolicy(ctx *pulumi.Context, svc *cloudrun.Service, prov *gcp.Provider) error {
	gcpCfg := config.New(ctx, "gcp")
	region := gcpCfg.Require("region")

	_, err := cloudrun.NewIamMember(ctx, "denyUnauthenticated", &cloudrun.IamMemberArgs{
		Service:  svc.Name,
		Location: pulumi.String(region),
		Role:     pulumi.String("roles/run.invoker"),

		// Allow requests to reach Identity Platform (Firebase) auth
		Member: pulumi.String("allUsers"),
	},
		pulumi.Provider(prov),
	)
	return err
}

func createSecrets(ctx *pulumi.Context) (*secretRefs, error) {
	var err error
	sr := new(secretRefs)

	appCfg := config.New(ctx, "app")
	gmailClientSecret := appCfg.RequireSecret("gmailClientSecret")
	mailHookKey := appCfg.RequireSecret("mailHookKey")

	sr.gmailClientSecretName, err = secret.AddSecret(ctx, "gmailClientSecretSecret", "gmailClientSecret", gmailClientSecret)
	if err != nil {
		return nil, err
	}

	sr.mailHookKeyName, err = secret.AddSecret(ctx, "mailHookKeySecret", "mailHookKey", mailHookKey)
	if err != nil {
		return nil, err
	}

	return sr, nil
}
