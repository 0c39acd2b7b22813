package models

import (
	"sort"
	"strings"
)

type Platform string

const (
	PlatformTikTok        Platform = "tiktok"
	PlatformInstagram     Platform = "instagram"
	PlatformYouTubeShorts Platform = "youtube_shorts"
	PlatformFacebook      Platform = "facebook"
	PlatformTwitter       Platform = "twitter"
)

// AllPlatforms lists supported platforms in display order.
var AllPlatforms = []Platform{
	PlatformTikTok,
	PlatformInstagram,
	PlatformYouTubeShorts,
	PlatformFacebook,
	PlatformTwitter,
}

// ParsePlatform accepts a platform identifier, case-insensitively. "youtube"
// is accepted as an alias of youtube_shorts.
func ParsePlatform(s string) (Platform, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "youtube" {
		return PlatformYouTubeShorts, true
	}
	for _, p := range AllPlatforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// PlatformSpec is the target rendition for one platform.
type PlatformSpec struct {
	Platform           Platform `json:"platform" yaml:"platform"`
	DisplayName        string   `json:"display_name" yaml:"display_name"`
	Width              int      `json:"width" yaml:"width"`
	Height             int      `json:"height" yaml:"height"`
	AspectRatio        string   `json:"aspect_ratio" yaml:"aspect_ratio"`
	MaxDurationSeconds int      `json:"max_duration_seconds" yaml:"max_duration_seconds"`
	MaxSizeBytes       int64    `json:"max_size_bytes" yaml:"max_size_bytes"`
}

// TargetRatio is width divided by height.
func (s PlatformSpec) TargetRatio() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

type PlatformSpecs map[Platform]PlatformSpec

func (ps PlatformSpecs) Lookup(p Platform) (PlatformSpec, bool) {
	spec, ok := ps[p]
	return spec, ok
}

// Sorted returns the specs in AllPlatforms order, followed by any extras by name.
func (ps PlatformSpecs) Sorted() []PlatformSpec {
	out := make([]PlatformSpec, 0, len(ps))
	seen := make(map[Platform]bool, len(ps))
	for _, p := range AllPlatforms {
		if spec, ok := ps[p]; ok {
			out = append(out, spec)
			seen[p] = true
		}
	}
	var extra []PlatformSpec
	for p, spec := range ps {
		if !seen[p] {
			extra = append(extra, spec)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Platform < extra[j].Platform })
	return append(out, extra...)
}

const mb = 1024 * 1024

// DefaultPlatformSpecs is the built-in rendition table.
func DefaultPlatformSpecs() PlatformSpecs {
	return PlatformSpecs{
		PlatformTikTok: {
			Platform: PlatformTikTok, DisplayName: "TikTok",
			Width: 1080, Height: 1920, AspectRatio: "9:16",
			MaxDurationSeconds: 60, MaxSizeBytes: 287 * mb,
		},
		PlatformInstagram: {
			Platform: PlatformInstagram, DisplayName: "Instagram Reels",
			Width: 1080, Height: 1920, AspectRatio: "9:16",
			MaxDurationSeconds: 90, MaxSizeBytes: 100 * mb,
		},
		PlatformYouTubeShorts: {
			Platform: PlatformYouTubeShorts, DisplayName: "YouTube Shorts",
			Width: 1080, Height: 1920, AspectRatio: "9:16",
			MaxDurationSeconds: 60, MaxSizeBytes: 256 * mb,
		},
		PlatformFacebook: {
			Platform: PlatformFacebook, DisplayName: "Facebook",
			Width: 1280, Height: 720, AspectRatio: "16:9",
			MaxDurationSeconds: 240, MaxSizeBytes: 1024 * mb,
		},
		PlatformTwitter: {
			Platform: PlatformTwitter, DisplayName: "Twitter",
			Width: 1280, Height: 720, AspectRatio: "16:9",
			MaxDurationSeconds: 140, MaxSizeBytes: 512 * mb,
		},
	}
}
