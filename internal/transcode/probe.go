package transcode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe output the workflow needs.
type ProbeResult struct {
	FormatName      string
	DurationSeconds float64
	SizeBytes       int64
	Width           int
	Height          int
	VideoCodec      string
	HasAudio        bool
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Disposition map[string]int `json:"disposition"`
}

// ParseProbeJSON converts raw ffprobe JSON into a ProbeResult.
func ParseProbeJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	pr := &ProbeResult{
		FormatName:      raw.Format.FormatName,
		DurationSeconds: parseFloat(raw.Format.Duration),
		SizeBytes:       parseInt64(raw.Format.Size),
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			// cover art is reported as a video stream
			if s.Disposition["attached_pic"] == 1 || pr.Width != 0 {
				continue
			}
			pr.Width = s.Width
			pr.Height = s.Height
			pr.VideoCodec = s.CodecName
		case "audio":
			pr.HasAudio = true
		}
	}
	if pr.Width == 0 || pr.Height == 0 {
		return nil, fmt.Errorf("no video stream in probe output")
	}
	return pr, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v
}
