package firestore

import (
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/firestore"
	"github.com/pulumi/pulumi-gcp/sdk/v9/go/gcp/projects"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

func SetupFirestore(ctx *pulumi.Context, prov *gcp.Provider) error {
	svc, err := projects.NewService(ctx, "firestore", &projects.ServiceArgs{
		Service: pulumi.String("firestore.googleapis.com"),
	},
		pulumi.Provider(prov),
	)
	if err != nil {
		return err
	}

	db, err := createDatabase(ctx, prov, svc)
	if err != nil {
		return err
	}

	return createIndexes(ctx, prov, db)
}

func createDatabase(ctx *pulumi.Context, prov *gcp.Provider, res ...pulumi.Resource) (*firestore.Database, error) {
	gcpCfg := config.New(ctx, "gcp")
	projectID := gcpCfg.Require("project")
	region := gcpCfg.Require("region")

	return firestore.NewDatabase(ctx, "firestoreDatabase", &firestore.DatabaseArgs{
		Project:    pulumi.String(projectID),
		LocationId: pulumi.String(region),
		Type:       pulumi.String("FIRESTORE_NATIVE"),
	},
		pulumi.Provider(prov),
		pulumi.DependsOn(res),
	)
}

// createIndexes provisions the composite indexes the workers query
// against. The queue claim reads the search_queue collection group
// filtered by status and ordered by creation time, which Firestore only
// serves with a collection-group composite index.
func createIndexes(ctx *pulumi.Context, prov *gcp.Provider, db *firestore.Database) error {
	_, err := firestore.NewIndex(ctx, "searchQueueClaimIndex", &firestore.IndexArgs{
		Database:   db.Name,
		Collection: pulumi.String("search_queue"),
		QueryScope: pulumi.String("COLLECTION_GROUP"),
		Fields: firestore.IndexFieldArray{
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("status"),
				Order:     pulumi.String("ASCENDING"),
			},
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("createdAt"),
				Order:     pulumi.String("ASCENDING"),
			},
		},
	},
		pulumi.Provider(prov),
		pulumi.DependsOn([]pulumi.Resource{db}),
	)
	if err != nil {
		return err
	}

	// Batch paging lists incomplete transactions newest first.
	_, err = firestore.NewIndex(ctx, "incompleteTransactionsIndex", &firestore.IndexArgs{
		Database:   db.Name,
		Collection: pulumi.String("transactions"),
		QueryScope: pulumi.String("COLLECTION"),
		Fields: firestore.IndexFieldArray{
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("isComplete"),
				Order:     pulumi.String("ASCENDING"),
			},
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("date"),
				Order:     pulumi.String("DESCENDING"),
			},
		},
	},
		pulumi.Provider(prov),
		pulumi.DependsOn([]pulumi.Resource{db}),
	)
	if err != nil {
		return err
	}

	// Unlinked-file scans filter on the extraction flags and range over
	// the extracted date.
	_, err = firestore.NewIndex(ctx, "unlinkedFilesByDateIndex", &firestore.IndexArgs{
		Database:   db.Name,
		Collection: pulumi.String("files"),
		QueryScope: pulumi.String("COLLECTION"),
		Fields: firestore.IndexFieldArray{
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("extractionComplete"),
				Order:     pulumi.String("ASCENDING"),
			},
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("transactionMatchComplete"),
				Order:     pulumi.String("ASCENDING"),
			},
			&firestore.IndexFieldArgs{
				FieldPath: pulumi.String("extractedDate"),
				Order:     pulumi.String("ASCENDING"),
			},
		},
	},
		pulumi.Provider(prov),
		pulumi.DependsOn([]pulumi.Resource{db}),
	)
	return err
}
