package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"uploads/a/source.mp4":      "uploads/a/source.mp4",
		"/uploads/a/source.mp4":     "uploads/a/source.mp4",
		"../../etc/passwd":          "etc/passwd",
		"uploads/../variants/x.mp4": "variants/x.mp4",
		`uploads\a\b.mp4`:           "uploads/a/b.mp4",
	}
	for in, want := range cases {
		got, err := cleanKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := cleanKey("/")
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "uploads/id/source.mov", SourceKey("id", "Clip.MOV"))
	assert.Equal(t, "uploads/id/source.mp4", SourceKey("id", "noext"))
	assert.Equal(t, "variants/id/tiktok.mp4", VariantKey("id", "tiktok"))
	assert.Equal(t, "variants/id/tiktok.jpg", ThumbnailKey("id", "tiktok"))
}

func TestLocalStorage_SaveOpenPublicURL(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/media/")
	require.NoError(t, err)

	loc, n, err := s.Save(ctx, "uploads/abc/source.mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/abc/source.mp4", loc)
	assert.Equal(t, int64(11), n)

	p, cleanup, err := s.Open(ctx, loc)
	require.NoError(t, err)
	defer cleanup()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))
	assert.True(t, strings.HasPrefix(p, s.Root()))

	assert.Equal(t, "http://localhost:8080/media/uploads/abc/source.mp4", s.PublicURL(loc))

	_, _, err = s.Open(ctx, "uploads/missing.mp4")
	assert.Error(t, err)
}

func TestLocalStorage_SaveFileMoves(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "http://x")
	require.NoError(t, err)

	tmp := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(tmp, []byte("rendered"), 0o644))

	loc, n, err := s.SaveFile(ctx, "variants/abc/tiktok.mp4", tmp)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	_, statErr := os.Stat(tmp)
	assert.True(t, os.IsNotExist(statErr), "source file should be moved")

	p, _, err := s.Open(ctx, loc)
	require.NoError(t, err)
	data, _ := os.ReadFile(p)
	assert.Equal(t, "rendered", string(data))
}

func TestGCSObjectKey(t *testing.T) {
	s := &GCSStorage{bucket: "media", publicBaseURL: "https://storage.googleapis.com/media"}

	key, err := s.objectKey("gs://media/variants/a/tiktok.mp4")
	require.NoError(t, err)
	assert.Equal(t, "variants/a/tiktok.mp4", key)

	_, err = s.objectKey("gs://other/variants/a.mp4")
	assert.Error(t, err)

	assert.Equal(t, "https://storage.googleapis.com/media/variants/a/tiktok.mp4", s.PublicURL("gs://media/variants/a/tiktok.mp4"))
	assert.Equal(t, "gs://media/k.mp4", s.location("k.mp4"))
	assert.Equal(t, "video/mp4", contentTypeFor("x.MP4"))
}
