package transcode

import (
	"fmt"

	"capora-backend/internal/models"
)

// Encoding defaults for every platform variant.
const (
	videoCodec   = "libx264"
	videoPreset  = "fast"
	videoCRF     = "23"
	audioCodec   = "aac"
	audioBitrate = "128k"
	thumbnailAt  = "1.0"
)

// ScaleCropFilter fills the target frame and crops the overflow, so the
// output is exactly width x height regardless of the source aspect.
func ScaleCropFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", width, height, width, height)
}

// BuildVariantArgs returns the ffmpeg argument slice (without the binary)
// that renders input into output for spec. The full source duration is
// kept; overruns are reported by variant validation.
func BuildVariantArgs(input, output string, spec models.PlatformSpec) []string {
	args := make([]string, 0, 32)
	args = append(args, "-hide_banner", "-nostdin", "-loglevel", "error")
	args = append(args, "-i", input)
	args = append(args, "-vf", ScaleCropFilter(spec.Width, spec.Height))
	args = append(args,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-pix_fmt", "yuv420p",
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		"-y", output,
	)
	return args
}

// BuildThumbnailArgs grabs one frame shortly after the start of input.
func BuildThumbnailArgs(input, output string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-ss", thumbnailAt,
		"-i", input,
		"-vframes", "1",
		"-q:v", "2",
		"-y", output,
	}
}

// BuildProbeArgs asks ffprobe for format and stream info as JSON.
func BuildProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	}
}
