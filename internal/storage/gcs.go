package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// GCSStorage keeps media in a Google Cloud Storage bucket. Locations are
// gs://bucket/key URIs.
type GCSStorage struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
	tempDir       string
}

func NewGCSStorage(ctx context.Context, bucket, publicBaseURL, tempDir string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("GCS bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSStorage{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		tempDir:       tempDir,
	}, nil
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) location(key string) string {
	return gcsScheme + s.bucket + "/" + key
}

// objectKey accepts either a gs:// location in this bucket or a bare key.
func (s *GCSStorage) objectKey(location string) (string, error) {
	if strings.HasPrefix(location, gcsScheme) {
		rest := strings.TrimPrefix(location, gcsScheme)
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket != s.bucket {
			return "", fmt.Errorf("%w: %s", ErrInvalidKey, location)
		}
		location = key
	}
	return cleanKey(location)
}

func (s *GCSStorage) Save(ctx context.Context, key string, r io.Reader) (string, int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", 0, err
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeFor(key)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", 0, fmt.Errorf("failed to upload object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to finalize object: %w", err)
	}
	return s.location(key), n, nil
}

func (s *GCSStorage) SaveFile(ctx context.Context, key, localPath string) (string, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	loc, n, err := s.Save(ctx, key, f)
	if err == nil {
		_ = os.Remove(localPath)
	}
	return loc, n, err
}

func (s *GCSStorage) Open(ctx context.Context, location string) (string, func(), error) {
	key, err := s.objectKey(location)
	if err != nil {
		return "", nil, err
	}

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	f, err := os.CreateTemp(s.tempDir, "capora-*"+path.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create local file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to download object: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

func (s *GCSStorage) PublicURL(location string) string {
	key, err := s.objectKey(location)
	if err != nil {
		return ""
	}
	return s.publicBaseURL + "/" + key
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
