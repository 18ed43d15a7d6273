package bootstrap

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

func InitFirestore(ctx context.Context, projectID string) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore init: %w", err)
	}
	return client, nil
}
