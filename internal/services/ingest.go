package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/logger"
)

// ExistingPrefix marks an ingest result that resolved to an already
// active file, so callers can score-and-relink instead of skipping.
const ExistingPrefix = "existing:"

type ingestFileStore interface {
	GetByHash(ctx context.Context, uid, hash string) (*models.File, error)
	Create(ctx context.Context, uid string, f *models.File) error
	Undelete(ctx context.Context, uid, fileID, filename, mimeType string, hint *models.PrecisionSearchHint) error
}

type ingestUploader interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (dto.BlobObject, error)
}

type ingestService struct {
	files    ingestFileStore
	blobs    ingestUploader
	clockNow func() time.Time
	newID    func() string
}

func NewIngestService(files ingestFileStore, blobs ingestUploader) *ingestService {
	return &ingestService{
		files:    files,
		blobs:    blobs,
		clockNow: time.Now,
		newID:    uuid.NewString,
	}
}

// Ingest stores raw bytes as a file record, deduplicating by content
// hash. Identical bytes resolve to the existing record (ExistingPrefix)
// or revive a soft-deleted one; only genuinely new content is uploaded.
//
// Two concurrent ingests of the same new bytes can race past each
// other's hash lookup and create two records. That window is accepted:
// the next cycle's hash dedup prevents further copies but does not
// retroactively merge the pair.
func (s *ingestService) Ingest(ctx context.Context, uid string, data []byte, filename, mimeType string, src dto.SourceMetadata, hint *models.PrecisionSearchHint) (string, error) {
	log := logger.FromContext(ctx)

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.files.GetByHash(ctx, uid, hash)
	if err != nil {
		if _, ok := err.(*errs.NotFoundError); !ok {
			return "", err
		}
	}

	if existing != nil {
		if !existing.IsDeleted() {
			log.Debug("ingest deduplicated", "file_id", existing.FileID)
			return ExistingPrefix + existing.FileID, nil
		}
		// Same content came back after a soft delete: revive the record
		// and force a fresh extraction pass.
		if err := s.files.Undelete(ctx, uid, existing.FileID, filename, normalizeMime(mimeType, filename), hint); err != nil {
			return "", err
		}
		log.Info("soft-deleted file revived", "file_id", existing.FileID)
		return existing.FileID, nil
	}

	contentType := normalizeMime(mimeType, filename)
	fileID := s.newID()
	object, err := s.blobs.Upload(ctx, fmt.Sprintf("users/%s/files/%s/%s", uid, fileID, filename), data, contentType)
	if err != nil {
		return "", err
	}

	now := s.clockNow()
	file := &models.File{
		FileID:              fileID,
		Filename:            filename,
		MimeType:            contentType,
		ContentHash:         hash,
		StoragePath:         object.Path,
		DownloadURL:         object.DownloadURL,
		SourceType:          src.SourceType,
		SenderDomain:        src.SenderDomain,
		MessageID:           src.MessageID,
		PartnerID:           src.PartnerID,
		ExtractionComplete:  false,
		PrecisionSearchHint: hint,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.files.Create(ctx, uid, file); err != nil {
		return "", err
	}

	log.Info("file ingested", "file_id", fileID, "source", src.SourceType, "bytes", len(data))
	return fileID, nil
}

// normalizeMime replaces a generic octet-stream report with the type
// implied by the file extension.
func normalizeMime(mimeType, filename string) string {
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
