package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/storage"
	messenger_errors "orgmessenger/pkg/errors"
)

// AttachmentService produces the file metadata the message path stores.
// Binary upload/download happens directly against external storage via
// presigned URLs.
type AttachmentService struct {
	storage *storage.Client
}

func NewAttachmentService(st *storage.Client) *AttachmentService {
	return &AttachmentService{storage: st}
}

type PresignInput struct {
	UploaderID  uuid.UUID
	FileName    string
	ContentType string
	FileSize    int64
}

type PresignResult struct {
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers"`
	FileName  string            `json:"file_name"`
	FileURL   string            `json:"file_url"`
	FileSize  int64             `json:"file_size"`
	FileType  string            `json:"file_type"`
}

const maxAttachmentSize = 100 << 20

func (s *AttachmentService) PresignUpload(ctx context.Context, input PresignInput) (PresignResult, error) {
	if s.storage == nil {
		return PresignResult{}, errors.New("attachment storage is not configured")
	}
	if input.UploaderID == uuid.Nil || input.FileName == "" || input.ContentType == "" {
		return PresignResult{}, messenger_errors.ErrInvalidInput
	}
	if input.FileSize <= 0 || input.FileSize > maxAttachmentSize {
		return PresignResult{}, messenger_errors.ErrInvalidInput
	}

	key := buildObjectKey(input.UploaderID, input.FileName)
	uploadURL, headers, err := s.storage.PresignPut(ctx, key, input.ContentType, input.FileSize)
	if err != nil {
		return PresignResult{}, err
	}

	return PresignResult{
		UploadURL: uploadURL,
		Headers:   headers,
		FileName:  input.FileName,
		FileURL:   s.storage.FileURL(key),
		FileSize:  input.FileSize,
		FileType:  input.ContentType,
	}, nil
}

func buildObjectKey(uploaderID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("attachments/%s/%d-%s%s",
		uploaderID, time.Now().UnixNano(), uuid.New().String()[:8], ext)
}
