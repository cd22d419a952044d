// Package blob stores attachment ciphertext in S3. Objects hold envelope
// ciphertext only; the nonce, tag, and wrapped key travel with the message
// row, so a bucket compromise alone yields nothing readable.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// ErrNotFound is returned when no object exists at the given key.
var ErrNotFound = errors.New("blob: object not found")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store writes and reads attachment ciphertext objects.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an attachment Store. If bucket is empty, all operations
// are no-ops and Enabled reports false.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled reports whether attachment storage is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Put stores one attachment's ciphertext and returns the object key the
// message row should reference.
func (s *Store) Put(ctx context.Context, tenantID, conversationID uuid.UUID, ciphertext []byte) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("blob: attachment storage not configured")
	}
	if len(ciphertext) == 0 {
		return "", fmt.Errorf("blob: empty ciphertext")
	}

	key := fmt.Sprintf("attachments/v1/%s/%s/%s", tenantID, conversationID, uuid.NewString())

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(ciphertext),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("blob: s3 put %s: %w", key, err)
	}

	s.logger.Debug("stored attachment ciphertext",
		"tenant_id", tenantID.String(),
		"conversation_id", conversationID.String(),
		"key", key,
		"size", len(ciphertext))
	return key, nil
}

// Get reads one attachment's ciphertext by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("blob: attachment storage not configured")
	}

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: s3 get %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, nil
}

// isNotFoundErr checks for the S3 missing-key error shapes.
func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
