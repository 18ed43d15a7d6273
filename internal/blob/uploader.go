package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
)

// Uploader writes file bytes to the receipts bucket.
type Uploader struct {
	client *storage.Client
	bucket string
}

func NewUploader(client *storage.Client, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

// Upload streams data into the bucket under objectName and returns the
// storage path plus a media-download URL.
func (u *Uploader) Upload(ctx context.Context, objectName string, data []byte, contentType string) (dto.BlobObject, error) {
	obj := u.client.Bucket(u.bucket).Object(objectName)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return dto.BlobObject{}, errs.NewExternalServiceError("storage", err.Error(), true)
	}
	if err := w.Close(); err != nil {
		return dto.BlobObject{}, errs.NewExternalServiceError("storage", err.Error(), true)
	}

	return dto.BlobObject{
		Path: fmt.Sprintf("gs://%s/%s", u.bucket, objectName),
		DownloadURL: fmt.Sprintf("https://storage.googleapis.com/%s/%s",
			u.bucket, objectName),
	}, nil
}
