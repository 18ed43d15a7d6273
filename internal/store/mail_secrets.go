package store

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Secrets path
// projects/{project}/secrets/gmail-refresh-token-{uid}-{accountID}/versions/{version}

type tokenCipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// mailSecretsStore keeps Gmail OAuth refresh tokens in Secret Manager,
// KMS-wrapped before they are written.
type mailSecretsStore struct {
	client    *secretmanager.Client
	cipher    tokenCipher
	projectID string
	prefix    string
}

func NewMailSecretsStore(client *secretmanager.Client, cipher tokenCipher, projectID string) *mailSecretsStore {
	return &mailSecretsStore{
		client:    client,
		cipher:    cipher,
		projectID: projectID,
		prefix:    "gmail-refresh-token",
	}
}

func (s *mailSecretsStore) secretID(uid, accountID string) string {
	return fmt.Sprintf("%s-%s-%s", s.prefix, uid, accountID)
}

func (s *mailSecretsStore) secretName(uid, accountID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, s.secretID(uid, accountID))
}

func (s *mailSecretsStore) ensureSecret(ctx context.Context, uid, accountID string) error {
	name := s.secretName(uid, accountID)
	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: name})
	if status.Code(err) == codes.NotFound {
		_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
			Parent:   fmt.Sprintf("projects/%s", s.projectID),
			SecretId: s.secretID(uid, accountID),
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{Automatic: &secretmanagerpb.Replication_Automatic{}},
				},
			},
		})
	}
	return err
}

func (s *mailSecretsStore) StoreRefreshToken(ctx context.Context, uid, accountID, token string) error {
	if err := s.ensureSecret(ctx, uid, accountID); err != nil {
		return err
	}
	wrapped, err := s.cipher.Encrypt(ctx, token)
	if err != nil {
		return err
	}
	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: s.secretName(uid, accountID),
		Payload: &secretmanagerpb.SecretPayload{
			Data: []byte(wrapped),
		},
	})
	return err
}

func (s *mailSecretsStore) GetRefreshToken(ctx context.Context, uid, accountID string) (string, error) {
	res, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("%s/versions/latest", s.secretName(uid, accountID)),
	})
	if err != nil {
		return "", err
	}
	return s.cipher.Decrypt(ctx, string(res.Payload.Data))
}

// DeleteRefreshToken removes the whole secret, all versions included.
// A missing secret is treated as success so disconnect stays
// idempotent.
func (s *mailSecretsStore) DeleteRefreshToken(ctx context.Context, uid, accountID string) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: s.secretName(uid, accountID),
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
