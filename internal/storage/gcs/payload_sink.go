// Package gcs provides a payload sink backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// PayloadSink writes version payloads to a configured GCS bucket.
type PayloadSink struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed payload sink.
func New(client *storage.Client, cfg Config) (*PayloadSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &PayloadSink{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data to the configured bucket and returns a gs:// location.
func (s *PayloadSink) Put(ctx context.Context, path, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Delete removes a previously uploaded object. Deleting an absent
// object is a no-op so identity purges stay idempotent.
func (s *PayloadSink) Delete(ctx context.Context, location string) error {
	bucket, object, err := parseLocation(location)
	if err != nil {
		return err
	}
	if bucket != s.bucket {
		return fmt.Errorf("location bucket %q does not match configured bucket %q", bucket, s.bucket)
	}
	err = s.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func parseLocation(location string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gcs location: %s", location)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gcs location: %s", location)
	}
	return bucket, object, nil
}
