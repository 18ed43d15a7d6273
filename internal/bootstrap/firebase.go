package bootstrap

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// InitFirebase returns the auth client used to verify ID tokens. Runs
// on application default credentials.
func InitFirebase(ctx context.Context) (*auth.Client, error) {
	app, err := firebase.NewApp(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return app.Auth(ctx)
}
