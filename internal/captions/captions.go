package captions

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

const (
	DefaultMaxLength = 2200
	MaxHashtags      = 10
)

// Request describes the caption a user asked for.
type Request struct {
	Description     string
	Tone            string
	Niche           string
	Platforms       []models.Platform
	IncludeHashtags bool
	MaxLength       int
}

type Result struct {
	Caption    string   `json:"caption"`
	Hashtags   []string `json:"hashtags"`
	Engagement string   `json:"engagement"`
	Provider   string   `json:"provider"`
	Fallback   bool     `json:"fallback"`
}

// Provider is one LLM backend. Complete returns the raw model text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Generator asks a provider for a caption and falls back to templates when
// the provider is missing, fails or answers with nothing usable.
type Generator struct {
	provider Provider
	slots    chan struct{}
	wait     time.Duration
	log      *logrus.Entry
}

func NewGenerator(provider Provider, concurrent int) *Generator {
	if concurrent <= 0 {
		concurrent = 4
	}
	slots := make(chan struct{}, concurrent)
	for i := 0; i < concurrent; i++ {
		slots <- struct{}{}
	}
	return &Generator{
		provider: provider,
		slots:    slots,
		wait:     30 * time.Second,
		log:      logger.For("captions"),
	}
}

func (g *Generator) acquire(ctx context.Context) error {
	select {
	case <-g.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.wait):
		return fmt.Errorf("timeout waiting for caption slot")
	}
}

func (g *Generator) release() {
	g.slots <- struct{}{}
}

// Generate never fails; any provider problem yields the fallback caption.
func (g *Generator) Generate(ctx context.Context, req Request) *Result {
	if req.MaxLength <= 0 || req.MaxLength > DefaultMaxLength {
		req.MaxLength = DefaultMaxLength
	}
	if g.provider == nil {
		return Fallback(req)
	}
	log := g.log.WithFields(logrus.Fields{"provider": g.provider.Name(), "tone": req.Tone, "niche": req.Niche})

	if err := g.acquire(ctx); err != nil {
		log.WithError(err).Warn("caption provider busy, using fallback")
		return Fallback(req)
	}
	defer g.release()

	text, err := g.provider.Complete(ctx, systemPrompt, BuildPrompt(req))
	if err != nil {
		log.WithError(err).Warn("caption generation failed, using fallback")
		return Fallback(req)
	}
	res, ok := ParseResponse(text, req)
	if !ok {
		log.Warn("caption response unusable, using fallback")
		return Fallback(req)
	}
	res.Provider = g.provider.Name()
	return res
}

const systemPrompt = "You write short-form video captions for social media. Answer with a single JSON object and nothing else."

var toneDescriptions = map[string]string{
	"casual":       "casual, friendly, and conversational",
	"professional": "professional, authoritative, and polished",
	"fun":          "fun, playful, and entertaining",
	"motivational": "motivational, inspiring, and uplifting",
	"educational":  "educational, informative, and helpful",
	"trendy":       "trendy, modern, and social media savvy",
}

var nicheDescriptions = map[string]string{
	"fitness":   "fitness, health, and wellness",
	"food":      "food, cooking, and culinary experiences",
	"education": "education, learning, and personal development",
	"lifestyle": "lifestyle, daily life, and personal experiences",
	"business":  "business, entrepreneurship, and professional growth",
	"tech":      "technology, innovation, and digital trends",
}

func describe(table map[string]string, key, def string) string {
	if d, ok := table[key]; ok {
		return d
	}
	if key != "" {
		return key
	}
	return def
}

func BuildPrompt(req Request) string {
	tone := describe(toneDescriptions, req.Tone, toneDescriptions["casual"])
	niche := describe(nicheDescriptions, req.Niche, "the content")
	maxLen := req.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	var b strings.Builder
	b.WriteString("Create an engaging social media caption")
	if len(req.Platforms) > 0 {
		names := make([]string, len(req.Platforms))
		for i, p := range req.Platforms {
			names[i] = strings.ReplaceAll(string(p), "_", " ")
		}
		fmt.Fprintf(&b, " for %s", strings.Join(names, ", "))
	}
	b.WriteString(" based on this content.\n\n")
	fmt.Fprintf(&b, "Content description: %s\n", strings.TrimSpace(req.Description))
	fmt.Fprintf(&b, "Niche: %s\n", niche)
	fmt.Fprintf(&b, "Tone: %s\n", tone)
	fmt.Fprintf(&b, "Max length: %d characters\n\n", maxLen)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- Write in a %s tone\n", tone)
	fmt.Fprintf(&b, "- Keep the caption under %d characters\n", maxLen)
	fmt.Fprintf(&b, "- Speak to an audience interested in %s\n", niche)
	if req.IncludeHashtags {
		b.WriteString("- Include 5-10 relevant hashtags, mixing popular and niche-specific ones\n")
	} else {
		b.WriteString("- Do not include hashtags\n")
	}
	b.WriteString("\nResponse format (JSON):\n")
	b.WriteString(`{"caption": "the caption text", "hashtags": ["tag1", "tag2"], "engagement": "high|medium|low"}`)
	b.WriteString("\n")
	return b.String()
}

var (
	jsonBlock  = regexp.MustCompile(`(?s)\{.*\}`)
	hashtagRef = regexp.MustCompile(`#(\w+)`)
)

type rawCaption struct {
	Caption    *string  `json:"caption"`
	Hashtags   []string `json:"hashtags"`
	Engagement string   `json:"engagement"`
}

// ParseResponse extracts a caption from model output. JSON is preferred;
// otherwise hashtag lines become tags and the rest becomes the caption.
func ParseResponse(text string, req Request) (*Result, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	maxLen := req.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	if block := jsonBlock.FindString(text); block != "" {
		var raw rawCaption
		if err := json.Unmarshal([]byte(block), &raw); err == nil && raw.Caption != nil && strings.TrimSpace(*raw.Caption) != "" {
			res := &Result{
				Caption:    truncate(strings.TrimSpace(*raw.Caption), maxLen),
				Hashtags:   NormalizeHashtags(raw.Hashtags),
				Engagement: normalizeEngagement(raw.Engagement),
			}
			if !req.IncludeHashtags {
				res.Hashtags = []string{}
			}
			return res, true
		}
	}

	var captionLines, tags []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			for _, m := range hashtagRef.FindAllStringSubmatch(line, -1) {
				tags = append(tags, m[1])
			}
		case strings.HasPrefix(line, "{"), strings.HasPrefix(line, "}"):
		default:
			captionLines = append(captionLines, line)
		}
	}
	caption := strings.TrimSpace(strings.Join(captionLines, "\n"))
	if caption == "" {
		caption = text
	}
	res := &Result{
		Caption:    truncate(caption, maxLen),
		Hashtags:   NormalizeHashtags(tags),
		Engagement: "medium",
	}
	if !req.IncludeHashtags {
		res.Hashtags = []string{}
	}
	return res, true
}

var toneTemplates = map[string]string{
	"casual":       "Just sharing this amazing moment! %s What do you think?",
	"professional": "Excited to share: %s. Looking forward to your thoughts and feedback.",
	"fun":          "This is SO cool! %s Who else loves this? 🔥",
	"motivational": "Remember: %s. You've got this! Keep pushing forward! 💪",
	"educational":  "Here's something interesting: %s. Hope this helps you learn something new!",
	"trendy":       "Okay but like... %s This is everything! ✨",
}

var nicheHashtags = map[string][]string{
	"fitness":   {"fitness", "workout", "health", "motivation", "fitlife"},
	"food":      {"food", "foodie", "cooking", "recipe", "delicious"},
	"education": {"education", "learning", "knowledge", "skills", "growth"},
	"lifestyle": {"lifestyle", "life", "daily", "inspiration", "vibes"},
	"business":  {"business", "entrepreneur", "success", "hustle", "growth"},
	"tech":      {"tech", "technology", "innovation", "digital", "future"},
}

var commonHashtags = []string{"viral", "trending", "follow"}

// Fallback builds a deterministic caption from the tone and niche templates.
func Fallback(req Request) *Result {
	tmpl, ok := toneTemplates[req.Tone]
	if !ok {
		tmpl = toneTemplates["casual"]
	}
	maxLen := req.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	hashtags := []string{}
	if req.IncludeHashtags {
		base, ok := nicheHashtags[req.Niche]
		if !ok {
			base = []string{"content", "create", "share"}
		}
		hashtags = NormalizeHashtags(append(append([]string{}, base...), commonHashtags...))
	}

	return &Result{
		Caption:    truncate(fmt.Sprintf(tmpl, strings.TrimSpace(req.Description)), maxLen),
		Hashtags:   hashtags,
		Engagement: "medium",
		Provider:   "template",
		Fallback:   true,
	}
}

// NormalizeHashtags strips '#', drops blanks and duplicates, and keeps at
// most MaxHashtags.
func NormalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), "#"))
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == MaxHashtags {
			break
		}
	}
	return out
}

func normalizeEngagement(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "high", "medium", "low":
		return s
	default:
		return "medium"
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
