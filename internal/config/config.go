package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

type OAuthApp struct {
	ClientID     string
	ClientSecret string
}

type Config struct {
	// Server
	Port string
	Env  string

	// Stores
	StoreBackend string // postgres or memory
	DatabaseURL  string
	RedisURL     string

	// JWT
	JWTSecret string

	// Media storage
	StorageType        string // local or gcs
	StoragePath        string
	GCSBucket          string
	PublicMediaBaseURL string
	MaxUploadMB        int

	// Transcoding
	FFmpegPath        string
	FFprobePath       string
	WorkDir           string
	TranscodeTimeout  time.Duration
	PlatformSpecsPath string

	// Publishing
	PublishTimeout time.Duration
	WorkerCount    int

	// Captions
	CaptionProvider       string // gemini, groq or none
	GeminiAPIKey          string
	GeminiModel           string
	GroqAPIKey            string
	GroqModel             string
	CaptionConcurrentReqs int
	CaptionRatePerMinute  int

	// Platform accounts
	OAuthRedirectBaseURL string
	OAuthApps            map[models.Platform]OAuthApp

	// Frontend
	FrontendURL string

	Log *logger.Config
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:         getEnvOrDefault("PORT", "8080"),
		Env:          getEnvOrDefault("ENV", "development"),
		StoreBackend: getEnvOrDefault("STORE_BACKEND", "postgres"),
		RedisURL:     getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:    mustGetEnv("JWT_SECRET"),

		StorageType:        getEnvOrDefault("STORAGE_TYPE", "local"),
		StoragePath:        getEnvOrDefault("STORAGE_PATH", "./media"),
		GCSBucket:          getEnvOrDefault("GCS_BUCKET", ""),
		PublicMediaBaseURL: getEnvOrDefault("PUBLIC_MEDIA_BASE_URL", "http://localhost:8080/media"),
		MaxUploadMB:        getEnvAsIntOrDefault("MAX_UPLOAD_MB", 100),

		FFmpegPath:        getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		WorkDir:           getEnvOrDefault("WORK_DIR", os.TempDir()),
		TranscodeTimeout:  getEnvAsDurationOrDefault("TRANSCODE_TIMEOUT", 10*time.Minute),
		PlatformSpecsPath: getEnvOrDefault("PLATFORM_SPECS_PATH", ""),

		PublishTimeout: getEnvAsDurationOrDefault("PUBLISH_TIMEOUT", 2*time.Minute),
		WorkerCount:    getEnvAsIntOrDefault("WORKER_COUNT", 4),

		CaptionProvider:       getEnvOrDefault("CAPTION_PROVIDER", "gemini"),
		GeminiAPIKey:          getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", ""),
		GroqAPIKey:            getEnvOrDefault("GROQ_API_KEY", ""),
		GroqModel:             getEnvOrDefault("GROQ_MODEL", ""),
		CaptionConcurrentReqs: getEnvAsIntOrDefault("CAPTION_CONCURRENT_REQUESTS", 4),
		CaptionRatePerMinute:  getEnvAsIntOrDefault("CAPTION_RATE_LIMIT_PER_MINUTE", 20),

		OAuthRedirectBaseURL: getEnvOrDefault("OAUTH_REDIRECT_BASE_URL", "http://localhost:8080"),
		OAuthApps: map[models.Platform]OAuthApp{
			models.PlatformYouTubeShorts: oauthApp("YOUTUBE"),
			models.PlatformTikTok:        oauthApp("TIKTOK"),
			models.PlatformInstagram:     oauthApp("INSTAGRAM"),
			models.PlatformFacebook:      oauthApp("FACEBOOK"),
			models.PlatformTwitter:       oauthApp("TWITTER"),
		},

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
		Log:         loadLogConfig(),
	}

	if cfg.StoreBackend == "postgres" {
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	}
	if cfg.StorageType == "gcs" {
		cfg.GCSBucket = mustGetEnv("GCS_BUCKET")
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func oauthApp(prefix string) OAuthApp {
	return OAuthApp{
		ClientID:     getEnvOrDefault(prefix+"_CLIENT_ID", ""),
		ClientSecret: getEnvOrDefault(prefix+"_CLIENT_SECRET", ""),
	}
}

func loadLogConfig() *logger.Config {
	def := logger.DefaultConfig()
	format := def.Format
	if getEnvOrDefault("ENV", "development") == "production" {
		format = "json"
	}
	return &logger.Config{
		Level:      getEnvOrDefault("LOG_LEVEL", def.Level),
		Format:     getEnvOrDefault("LOG_FORMAT", format),
		Output:     getEnvOrDefault("LOG_OUTPUT", def.Output),
		LogPath:    getEnvOrDefault("LOG_PATH", def.LogPath),
		FileName:   getEnvOrDefault("LOG_FILE", def.FileName),
		MaxSize:    getEnvAsIntOrDefault("LOG_MAX_SIZE", def.MaxSize),
		MaxBackups: getEnvAsIntOrDefault("LOG_MAX_BACKUPS", def.MaxBackups),
		MaxAge:     getEnvAsIntOrDefault("LOG_MAX_AGE", def.MaxAge),
		Compress:   getEnvAsBoolOrDefault("LOG_COMPRESS", def.Compress),
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or plain seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
