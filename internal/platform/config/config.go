package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures environment-level tuning for the pipeline. FromEnv keeps
// main lean; every knob has a working default so a bare binary is usable.
type Config struct {
	Addr   string
	DBPath string

	// PII detection.
	DetectThreshold   float64 // minimum confidence kept after merge/boost
	DetectBoost       float64 // per-cue confidence increment, capped at 1.0
	DetectOverlap     float64 // span overlap fraction that triggers a merge
	DetectContextSpan int     // chars inspected around a detection for cues
	DetectConfigPath  string  // optional YAML with exclusions/extra patterns
	NEREndpoint       string  // optional high-recall engine; empty disables

	// Redaction policy applied before chunk persistence.
	RedactOnIngest bool

	// Document store.
	ChunkMaxChars    int
	ChunkMinChars    int
	ChunkOverlap     int
	CapacityCeiling  int64
	MinSimilarity    float64
	EmbedderEndpoint string // optional remote embedder; consent-gated
	EmbedderModel    string
	EmbedDimensions  int // local fallback embedding width

	// Retention.
	SweepInterval       time.Duration
	DocumentTTL         time.Duration
	ChatMessageTTL      time.Duration
	AuditTTL            time.Duration
	AuditRetentionFloor time.Duration // legal floor; entries younger never expire
}

// FromEnv builds a Config from TACITA_* environment variables.
func FromEnv() Config {
	return Config{
		Addr:   envString("TACITA_ADDR", ":8080"),
		DBPath: envString("TACITA_DB_PATH", "tacita.db"),

		DetectThreshold:   envFloat("TACITA_DETECT_THRESHOLD", 0.85),
		DetectBoost:       envFloat("TACITA_DETECT_BOOST", 0.10),
		DetectOverlap:     envFloat("TACITA_DETECT_OVERLAP", 0.5),
		DetectContextSpan: envInt("TACITA_DETECT_CONTEXT_SPAN", 50),
		DetectConfigPath:  os.Getenv("TACITA_DETECT_CONFIG"),
		NEREndpoint:       os.Getenv("TACITA_NER_ENDPOINT"),

		RedactOnIngest: envBool("TACITA_REDACT_ON_INGEST", true),

		ChunkMaxChars:    envInt("TACITA_CHUNK_MAX_CHARS", 1000),
		ChunkMinChars:    envInt("TACITA_CHUNK_MIN_CHARS", 500),
		ChunkOverlap:     envInt("TACITA_CHUNK_OVERLAP", 100),
		CapacityCeiling:  int64(envInt("TACITA_CAPACITY_CEILING", 100000)),
		MinSimilarity:    envFloat("TACITA_MIN_SIMILARITY", 0.7),
		EmbedderEndpoint: os.Getenv("TACITA_EMBEDDER_ENDPOINT"),
		EmbedderModel:    envString("TACITA_EMBEDDER_MODEL", "nomic-embed-text"),
		EmbedDimensions:  envInt("TACITA_EMBED_DIMENSIONS", 256),

		SweepInterval:       envDuration("TACITA_SWEEP_INTERVAL", 24*time.Hour),
		DocumentTTL:         envDuration("TACITA_DOCUMENT_TTL", 365*24*time.Hour),
		ChatMessageTTL:      envDuration("TACITA_CHAT_TTL", 30*24*time.Hour),
		AuditTTL:            envDuration("TACITA_AUDIT_TTL", 2*365*24*time.Hour),
		AuditRetentionFloor: envDuration("TACITA_AUDIT_FLOOR", 365*24*time.Hour),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
