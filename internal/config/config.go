package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultICEServersJSON = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	AuthPassword   string
	ICEServersJSON string

	VisionAPIKey   string
	VisionEndpoint string

	ChatProvider     string // "openai", "cerebras" or "gemini"
	OpenAIKey        string
	OpenAIBaseURL    string
	ChatModel        string
	SummaryModel     string
	GeminiKey        string
	CerebrasKey      string
	MaxContextTokens int
	ChatPreamble     string

	TTSProvider       string // "deepgram" or "elevenlabs"
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	CaptureCountdown      time.Duration
	NarrationGrace        time.Duration
	NarrationStartTimeout time.Duration
	MaxImageDimension     int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file loaded; using process environment")
	}

	cfg := Config{
		HTTPAddress:    getEnv("HTTP_ADDRESS", ":8080"),
		AuthPassword:   os.Getenv("AUTH_PASSWORD"),
		ICEServersJSON: getEnv("ICE_SERVERS_JSON", defaultICEServersJSON),

		VisionAPIKey:   os.Getenv("GOOGLE_VISION_API_KEY"),
		VisionEndpoint: os.Getenv("VISION_ENDPOINT"),

		ChatProvider:     getEnv("CHAT_PROVIDER", "openai"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		ChatModel:        getEnv("CHAT_MODEL", "gpt-4o-mini"),
		SummaryModel:     getEnv("SUMMARY_MODEL", "gpt-4"),
		GeminiKey:        os.Getenv("GEMINI_API_KEY"),
		CerebrasKey:      os.Getenv("CEREBRAS_API_KEY"),
		MaxContextTokens: getInt("CHAT_MAX_CONTEXT_TOKENS", 0),
		ChatPreamble:     getEnv("CHAT_PREAMBLE", "Act as an AI Model. Reply to user questions."),

		TTSProvider:       getEnv("TTS_PROVIDER", "deepgram"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     os.Getenv("DEEPGRAM_MODEL"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		CaptureCountdown:      getDuration("CAPTURE_COUNTDOWN", 5*time.Second),
		NarrationGrace:        getDuration("NARRATION_GRACE", 500*time.Millisecond),
		NarrationStartTimeout: getDuration("NARRATION_START_TIMEOUT", 15*time.Second),
		MaxImageDimension:     getInt("MAX_IMAGE_DIMENSION", 0),
	}

	if cfg.VisionAPIKey == "" {
		log.Println("Warning: GOOGLE_VISION_API_KEY not set - image analysis will not work")
	}
	switch cfg.ChatProvider {
	case "gemini":
		if cfg.GeminiKey == "" {
			log.Println("Warning: GEMINI_API_KEY not set - chat will not work")
		}
		if os.Getenv("CHAT_MODEL") == "" {
			cfg.ChatModel = "gemini-2.5-flash"
		}
		if os.Getenv("SUMMARY_MODEL") == "" {
			cfg.SummaryModel = cfg.ChatModel
		}
	case "cerebras":
		if cfg.CerebrasKey == "" {
			log.Println("Warning: CEREBRAS_API_KEY not set - chat will not work")
		}
		if os.Getenv("CHAT_MODEL") == "" {
			cfg.ChatModel = "llama-4-maverick-17b-128e-instruct"
		}
		if os.Getenv("SUMMARY_MODEL") == "" {
			cfg.SummaryModel = cfg.ChatModel
		}
	default:
		if cfg.OpenAIKey == "" {
			log.Println("Warning: OPENAI_API_KEY not set - chat will not work")
		}
	}
	switch cfg.TTSProvider {
	case "elevenlabs":
		if cfg.ElevenLabsKey == "" || cfg.ElevenLabsVoiceID == "" {
			log.Println("Warning: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - narration will be silent")
		}
	default:
		if cfg.DeepgramKey == "" {
			log.Println("Warning: DEEPGRAM_API_KEY not set - narration will be silent")
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s CHAT_PROVIDER=%s TTS_PROVIDER=%s", cfg.HTTPAddress, cfg.ChatProvider, cfg.TTSProvider)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}
