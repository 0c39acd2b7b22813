package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps media under a directory that the API also serves at
// PublicBaseURL.
type LocalStorage struct {
	root          string
	publicBaseURL string
}

func NewLocalStorage(root, publicBaseURL string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &LocalStorage{root: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStorage) Root() string { return s.root }

func (s *LocalStorage) pathFor(location string) (string, error) {
	key, err := cleanKey(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStorage) Save(ctx context.Context, key string, r io.Reader) (string, int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", 0, err
	}
	dst, _ := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(f, readerWithContext(ctx, r))
	if err != nil {
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return key, n, nil
}

func (s *LocalStorage) SaveFile(ctx context.Context, key, localPath string) (string, int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", 0, err
	}
	dst, _ := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("create directory: %w", err)
	}
	if err := os.Rename(localPath, dst); err == nil {
		info, err := os.Stat(dst)
		if err != nil {
			return "", 0, err
		}
		return key, info.Size(), nil
	}

	// cross-device: fall back to copy
	src, err := os.Open(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = src.Close() }()
	loc, n, err := s.Save(ctx, key, src)
	if err == nil {
		_ = os.Remove(localPath)
	}
	return loc, n, err
}

func (s *LocalStorage) Open(_ context.Context, location string) (string, func(), error) {
	p, err := s.pathFor(location)
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(p); err != nil {
		return "", nil, fmt.Errorf("open %s: %w", location, err)
	}
	return p, func() {}, nil
}

func (s *LocalStorage) PublicURL(location string) string {
	key, err := cleanKey(location)
	if err != nil {
		return ""
	}
	return s.publicBaseURL + "/" + key
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
