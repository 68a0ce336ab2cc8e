package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	potluck_errors "potluck-chat/pkg/errors"

	"github.com/google/uuid"
)

// ObjectStore is the slice of the S3 client uploads need.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, sizeBytes int64) (string, error)
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error)
	FileURL(key string) string
}

const (
	ResourceImage = "image"
	ResourceVideo = "video"
	ResourceAudio = "audio"
	ResourceRaw   = "raw"
)

type UploadResult struct {
	URL          string `json:"url"`
	ResourceType string `json:"resourceType"`
}

type PresignResult struct {
	UploadURL    string            `json:"uploadUrl"`
	Headers      map[string]string `json:"headers"`
	URL          string            `json:"url"`
	ResourceType string            `json:"resourceType"`
}

type UploadService struct {
	store    ObjectStore
	maxBytes int64
}

// NewUploadService returns a service that refuses every upload when store is nil.
func NewUploadService(store ObjectStore, maxBytes int64) *UploadService {
	return &UploadService{store: store, maxBytes: maxBytes}
}

func (s *UploadService) Enabled() bool {
	return s.store != nil
}

// Upload stores body under uploads/<userID>/<uuid><ext> and returns its public url.
func (s *UploadService) Upload(ctx context.Context, userID int64, filename, contentType string, body io.Reader, sizeBytes int64) (UploadResult, error) {
	contentType, err := s.check(filename, contentType, sizeBytes)
	if err != nil {
		return UploadResult{}, err
	}

	url, err := s.store.Put(ctx, objectKey(userID, filename), contentType, body, sizeBytes)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", potluck_errors.ErrStoreUnavailable, err)
	}
	return UploadResult{URL: url, ResourceType: ResourceType(contentType)}, nil
}

// Presign lets the client send the bytes straight to the bucket.
func (s *UploadService) Presign(ctx context.Context, userID int64, filename, contentType string, sizeBytes int64) (PresignResult, error) {
	contentType, err := s.check(filename, contentType, sizeBytes)
	if err != nil {
		return PresignResult{}, err
	}

	key := objectKey(userID, filename)
	uploadURL, headers, err := s.store.PresignPut(ctx, key, contentType, sizeBytes)
	if err != nil {
		return PresignResult{}, fmt.Errorf("%w: %v", potluck_errors.ErrStoreUnavailable, err)
	}
	return PresignResult{
		UploadURL:    uploadURL,
		Headers:      headers,
		URL:          s.store.FileURL(key),
		ResourceType: ResourceType(contentType),
	}, nil
}

func (s *UploadService) check(filename, contentType string, sizeBytes int64) (string, error) {
	if s.store == nil {
		return "", potluck_errors.ErrStorageDisabled
	}
	if sizeBytes <= 0 {
		return "", fmt.Errorf("empty file: %w", potluck_errors.ErrInvalidInput)
	}
	if s.maxBytes > 0 && sizeBytes > s.maxBytes {
		return "", fmt.Errorf("%d bytes exceeds %d: %w", sizeBytes, s.maxBytes, potluck_errors.ErrTooLarge)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
			contentType = byExt
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, nil
}

// ResourceType buckets a content type into image, video, audio or raw.
func ResourceType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return ResourceImage
	case strings.HasPrefix(mediaType, "video/"):
		return ResourceVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return ResourceAudio
	default:
		return ResourceRaw
	}
}

func objectKey(userID int64, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return "uploads/" + strconv.FormatInt(userID, 10) + "/" + uuid.NewString() + ext
}
