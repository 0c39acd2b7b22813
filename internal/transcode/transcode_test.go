package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capora-backend/internal/models"
	"capora-backend/internal/storage"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 300, "height": 300, "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1080, "height": 1920, "disposition": {"attached_pic": 0}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "59.981000", "size": "1048576"}
}`

func TestBuildVariantArgs(t *testing.T) {
	spec := models.DefaultPlatformSpecs()[models.PlatformFacebook]
	args := BuildVariantArgs("in.mov", "out.mp4", spec)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i in.mov")
	assert.Contains(t, joined, "-vf scale=1280:720:force_original_aspect_ratio=increase,crop=1280:720")
	assert.NotContains(t, args, "-t", "long sources must not be cut")
	assert.Contains(t, joined, "-c:v libx264 -preset fast -crf 23")
	assert.Contains(t, joined, "-c:a aac -b:a 128k")
	assert.Equal(t, "out.mp4", args[len(args)-1])
	assert.Equal(t, "-y", args[len(args)-2])
}

func TestBuildThumbnailArgs(t *testing.T) {
	args := strings.Join(BuildThumbnailArgs("v.mp4", "t.jpg"), " ")
	assert.Contains(t, args, "-ss 1.0 -i v.mp4 -vframes 1 -q:v 2 -y t.jpg")
}

func TestParseProbeJSON(t *testing.T) {
	pr, err := ParseProbeJSON([]byte(sampleProbe))
	require.NoError(t, err)
	assert.Equal(t, 1080, pr.Width, "attached picture must be skipped")
	assert.Equal(t, 1920, pr.Height)
	assert.Equal(t, "h264", pr.VideoCodec)
	assert.InDelta(t, 59.981, pr.DurationSeconds, 0.001)
	assert.Equal(t, int64(1048576), pr.SizeBytes)
	assert.True(t, pr.HasAudio)
}

func TestParseProbeJSON_Errors(t *testing.T) {
	_, err := ParseProbeJSON([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseProbeJSON([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	assert.Error(t, err)
}

func TestClassifyStderr(t *testing.T) {
	assert.Equal(t, "source is not a readable video", ClassifyStderr("in.mp4: Invalid data found when processing input"))
	assert.Equal(t, "source file not found", ClassifyStderr("x.mp4: No such file or directory"))
	assert.Equal(t, "encoder not available", ClassifyStderr("Unknown encoder 'libx264'"))
	assert.Equal(t, "", ClassifyStderr("something else"))
}

func TestToolError_Message(t *testing.T) {
	err := toolError("ffmpeg", ExecResult{Stderr: "line one\nInvalid data found when processing input\n", Err: errors.New("exit status 1")})
	assert.EqualError(t, err, "ffmpeg failed: source is not a readable video")

	err = toolError("ffmpeg", ExecResult{Stderr: "first\nlast words\n", Err: errors.New("exit status 1")})
	assert.EqualError(t, err, "ffmpeg failed: last words")

	assert.True(t, errors.Is(toolError("ffmpeg", ExecResult{Err: context.DeadlineExceeded}), context.DeadlineExceeded))
	assert.NoError(t, toolError("ffmpeg", ExecResult{}))
}

// fakeRunner writes the output file named by the last argument and answers
// ffprobe with canned JSON.
type fakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	probe     string
	failThumb bool
	failVideo string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ExecResult {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if name == "ffprobe" {
		if f.probe != "" {
			return ExecResult{Stdout: []byte(f.probe)}
		}
		return ExecResult{Stdout: []byte(sampleProbe)}
	}
	out := args[len(args)-1]
	if strings.HasSuffix(out, ".jpg") && f.failThumb {
		return ExecResult{Stderr: "boom", Err: errors.New("exit status 1")}
	}
	if strings.HasSuffix(out, ".mp4") && f.failVideo != "" {
		return ExecResult{Stderr: f.failVideo, Err: errors.New("exit status 1")}
	}
	_ = os.WriteFile(out, []byte("data"), 0o644)
	return ExecResult{}
}

func newTestTranscoder(t *testing.T, r Runner) (*Transcoder, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)
	tc := New(store, Options{WorkDir: filepath.Join(t.TempDir(), "work")}).WithRunner(r)
	return tc, store
}

func TestTranscoder_Transcode(t *testing.T) {
	runner := &fakeRunner{}
	tc, store := newTestTranscoder(t, runner)
	id := uuid.New()

	res, err := tc.Transcode(context.Background(), models.TranscodeRequest{
		ContentID:  id,
		SourcePath: "/src/clip.mov",
		Spec:       models.DefaultPlatformSpecs()[models.PlatformTikTok],
	})
	require.NoError(t, err)
	assert.Equal(t, storage.VariantKey(id.String(), "tiktok"), res.MediaLocation)
	assert.Equal(t, storage.ThumbnailKey(id.String(), "tiktok"), res.ThumbnailLocation)
	assert.Equal(t, 1080, res.Width)
	assert.Equal(t, 1920, res.Height)
	assert.Equal(t, int64(1048576), res.SizeBytes)
	assert.Equal(t, "mp4", res.Format)

	_, _, err = store.Open(context.Background(), res.MediaLocation)
	assert.NoError(t, err)
	assert.Len(t, runner.calls, 3)
	assert.Equal(t, "ffmpeg", runner.calls[0][0])
}

func TestTranscoder_ThumbnailFailureIsTolerated(t *testing.T) {
	tc, _ := newTestTranscoder(t, &fakeRunner{failThumb: true})
	res, err := tc.Transcode(context.Background(), models.TranscodeRequest{
		ContentID: uuid.New(),
		Spec:      models.DefaultPlatformSpecs()[models.PlatformTwitter],
	})
	require.NoError(t, err)
	assert.Empty(t, res.ThumbnailLocation)
	assert.NotEmpty(t, res.MediaLocation)
}

func TestTranscoder_EncodeFailure(t *testing.T) {
	tc, _ := newTestTranscoder(t, &fakeRunner{failVideo: "moov atom not found"})
	_, err := tc.Transcode(context.Background(), models.TranscodeRequest{
		ContentID: uuid.New(),
		Spec:      models.DefaultPlatformSpecs()[models.PlatformInstagram],
	})
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "source is not a readable video", te.Reason)
}

func TestTranscoder_LongSourceKeepsFullDuration(t *testing.T) {
	runner := &fakeRunner{probe: `{"streams":[{"codec_type":"video","width":1080,"height":1920}],"format":{"duration":"612.5","size":"2048"}}`}
	tc, _ := newTestTranscoder(t, runner)

	res, err := tc.Transcode(context.Background(), models.TranscodeRequest{
		ContentID: uuid.New(),
		Spec:      models.DefaultPlatformSpecs()[models.PlatformTikTok],
	})
	require.NoError(t, err)
	assert.InDelta(t, 612.5, res.DurationSeconds, 0.001)
	assert.NotContains(t, runner.calls[0], "-t")
}
