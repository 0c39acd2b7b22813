package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
	"capora-backend/internal/storage"
)

type Options struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
}

// Transcoder renders variants with ffmpeg and stores them in a storage backend.
type Transcoder struct {
	opts   Options
	store  storage.Backend
	runner Runner
	log    *logrus.Entry
}

func New(store storage.Backend, opts Options) *Transcoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	return &Transcoder{opts: opts, store: store, runner: execRunner{}, log: logger.For("transcode")}
}

// WithRunner swaps the command runner.
func (t *Transcoder) WithRunner(r Runner) *Transcoder {
	t.runner = r
	return t
}

// Probe measures a local media file.
func (t *Transcoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res := t.runner.Run(ctx, t.opts.FFprobePath, BuildProbeArgs(path)...)
	if err := toolError("ffprobe", res); err != nil {
		return nil, err
	}
	return ParseProbeJSON(res.Stdout)
}

func (t *Transcoder) Transcode(ctx context.Context, req models.TranscodeRequest) (*models.TranscodeResult, error) {
	platform := string(req.Spec.Platform)
	contentID := req.ContentID.String()
	log := t.log.WithFields(logrus.Fields{"content_id": contentID, "platform": platform})

	if t.opts.WorkDir != "" {
		if err := os.MkdirAll(t.opts.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	tmpDir, err := os.MkdirTemp(t.opts.WorkDir, "variant-"+platform+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	videoOut := filepath.Join(tmpDir, platform+".mp4")
	res := t.runner.Run(ctx, t.opts.FFmpegPath, BuildVariantArgs(req.SourcePath, videoOut, req.Spec)...)
	if err := toolError("ffmpeg", res); err != nil {
		return nil, err
	}

	probe, err := t.Probe(ctx, videoOut)
	if err != nil {
		return nil, fmt.Errorf("measure variant: %w", err)
	}

	thumbLocation := ""
	thumbOut := filepath.Join(tmpDir, platform+".jpg")
	thumbRes := t.runner.Run(ctx, t.opts.FFmpegPath, BuildThumbnailArgs(videoOut, thumbOut)...)
	if err := toolError("ffmpeg", thumbRes); err != nil {
		// a missing thumbnail does not fail the variant
		log.WithError(err).Warn("thumbnail extraction failed")
	} else {
		loc, _, err := t.store.SaveFile(ctx, storage.ThumbnailKey(contentID, platform), thumbOut)
		if err != nil {
			log.WithError(err).Warn("failed to store thumbnail")
		} else {
			thumbLocation = loc
		}
	}

	location, size, err := t.store.SaveFile(ctx, storage.VariantKey(contentID, platform), videoOut)
	if err != nil {
		return nil, fmt.Errorf("store variant: %w", err)
	}
	if probe.SizeBytes > 0 {
		size = probe.SizeBytes
	}

	log.WithFields(logrus.Fields{
		"width":    probe.Width,
		"height":   probe.Height,
		"duration": probe.DurationSeconds,
	}).Debug("variant rendered")

	return &models.TranscodeResult{
		MediaLocation:     location,
		ThumbnailLocation: thumbLocation,
		Width:             probe.Width,
		Height:            probe.Height,
		DurationSeconds:   probe.DurationSeconds,
		SizeBytes:         size,
		Format:            "mp4",
	}, nil
}
