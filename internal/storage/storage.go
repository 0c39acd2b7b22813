package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrInvalidKey = errors.New("invalid storage key")

// Backend stores uploaded sources and rendered variants.
type Backend interface {
	// Save streams r under key and returns the stored location.
	Save(ctx context.Context, key string, r io.Reader) (location string, size int64, err error)
	// SaveFile moves a local file under key.
	SaveFile(ctx context.Context, key, localPath string) (location string, size int64, err error)
	// Open makes location available as a local file until cleanup is called.
	Open(ctx context.Context, location string) (path string, cleanup func(), err error)
	// PublicURL is the URL platforms pull the media from.
	PublicURL(location string) string
}

// cleanKey rejects absolute and parent-escaping keys.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" || key == "." {
		return "", ErrInvalidKey
	}
	return key, nil
}

func SourceKey(contentID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	return "uploads/" + contentID + "/source" + ext
}

func VariantKey(contentID, platform string) string {
	return "variants/" + contentID + "/" + platform + ".mp4"
}

func ThumbnailKey(contentID, platform string) string {
	return "variants/" + contentID + "/" + platform + ".jpg"
}
