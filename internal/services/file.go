package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sweepBatchSize = 100

// ObjectStore holds file contents. Clients upload and download directly
// using presigned URLs.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	PresignGet(ctx context.Context, key, fileName string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3Options configures the S3 object store
type S3Options struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// S3Store is an ObjectStore backed by an S3 bucket
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Store creates an S3 object store. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
	}, nil
}

// PresignPut returns a URL the client uploads the object to
func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate pre-signed upload URL: %w", err)
	}
	return req.URL, nil
}

// PresignGet returns a URL the client downloads the object from
func (s *S3Store) PresignGet(ctx context.Context, key, fileName string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", fileName)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate pre-signed download URL: %w", err)
	}
	return req.URL, nil
}

// Delete removes an object
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// UploadRequest describes a file the client wants to send to a contact
type UploadRequest struct {
	RecipientID string `json:"recipient_id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// UploadResponse carries the presigned upload URL
type UploadResponse struct {
	FileID    string    `json:"file_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadResponse carries the presigned download URL
type DownloadResponse struct {
	File        *models.File `json:"file"`
	DownloadURL string       `json:"download_url"`
	ExpiresIn   int          `json:"expires_in"`
}

// FileService manages temporary files exchanged between friends
type FileService struct {
	files     FileRepository
	gate      *FriendshipGate
	store     ObjectStore
	ttl       time.Duration
	maxSize   int64
	urlExpiry time.Duration
	now       func() time.Time
}

// NewFileService creates a new file service. Files expire ttl after upload.
func NewFileService(files FileRepository, gate *FriendshipGate, store ObjectStore, ttl time.Duration, maxSize int64, urlExpiry time.Duration) *FileService {
	return &FileService{
		files:     files,
		gate:      gate,
		store:     store,
		ttl:       ttl,
		maxSize:   maxSize,
		urlExpiry: urlExpiry,
		now:       time.Now,
	}
}

// CreateUpload records a file addressed to a friend and returns a
// presigned upload URL for it
func (s *FileService) CreateUpload(ctx context.Context, ownerID string, req UploadRequest) (*UploadResponse, error) {
	fileName := path.Base(strings.TrimSpace(req.FileName))
	if req.RecipientID == "" || fileName == "" || fileName == "." || fileName == "/" {
		return nil, apperrors.Validation("recipient_id and file_name required")
	}
	if req.FileSize <= 0 || req.FileSize > s.maxSize {
		return nil, apperrors.Validation(fmt.Sprintf("file_size must be between 1 and %d bytes", s.maxSize))
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	if err := s.gate.CanMessage(ctx, ownerID, req.RecipientID); err != nil {
		return nil, err
	}

	fileID := uuid.New().String()
	key := fmt.Sprintf("%s/%s/%s", ownerID, fileID, fileName)

	url, err := s.store.PresignPut(ctx, key, req.ContentType, s.urlExpiry)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}

	now := s.now()
	f := &models.File{
		ID:          fileID,
		OwnerID:     ownerID,
		RecipientID: req.RecipientID,
		FileName:    fileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		S3Key:       key,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	if err := s.files.Create(ctx, f); err != nil {
		return nil, apperrors.Unavailable(err)
	}

	log.Info().Str("file_id", fileID).Str("owner_id", ownerID).Str("recipient_id", req.RecipientID).Msg("Upload created")
	return &UploadResponse{
		FileID:    fileID,
		UploadURL: url,
		ExpiresIn: int(s.urlExpiry.Seconds()),
		ExpiresAt: f.ExpiresAt,
	}, nil
}

// DownloadURL returns a presigned URL for the uploader or the recipient
func (s *FileService) DownloadURL(ctx context.Context, userID, fileID string) (*DownloadResponse, error) {
	f, err := s.liveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != userID && f.RecipientID != userID {
		return nil, fmt.Errorf("file %s: %w", fileID, apperrors.ErrNotFound)
	}

	url, err := s.store.PresignGet(ctx, f.S3Key, f.FileName, s.urlExpiry)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	return &DownloadResponse{
		File:        f,
		DownloadURL: url,
		ExpiresIn:   int(s.urlExpiry.Seconds()),
	}, nil
}

// VerifyShare checks that fileID was uploaded by from for to
func (s *FileService) VerifyShare(ctx context.Context, fileID, from, to string) (*models.File, error) {
	f, err := s.liveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != from || f.RecipientID != to {
		return nil, fmt.Errorf("file %s: %w", fileID, apperrors.ErrNotFound)
	}
	return f, nil
}

// SweepExpired deletes expired objects and their records
func (s *FileService) SweepExpired(ctx context.Context) error {
	files, err := s.files.ListExpired(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return err
	}

	deleted := 0
	for _, f := range files {
		if err := s.store.Delete(ctx, f.S3Key); err != nil {
			log.Warn().Err(err).Str("file_id", f.ID).Msg("Failed to delete expired object")
			continue
		}
		if err := s.files.Delete(ctx, f.ID); err != nil {
			log.Warn().Err(err).Str("file_id", f.ID).Msg("Failed to delete expired file record")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Info().Int("files", deleted).Msg("Expired files deleted")
	}
	return nil
}

func (s *FileService) liveFile(ctx context.Context, fileID string) (*models.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, err
		}
		return nil, apperrors.Unavailable(err)
	}
	if !f.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("file %s expired: %w", fileID, apperrors.ErrNotFound)
	}
	return f, nil
}
