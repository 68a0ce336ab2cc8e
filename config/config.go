package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	AppPort        string
	AppMode        string
	LogMode        string
	AllowedOrigins []string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// RealtimeBackend selects where presence, typing and room fan-out live.
	RealtimeBackend string

	JWTSecret    string
	JWTExpiryMin int

	TypingTTL             time.Duration
	ConversationCoalesce  time.Duration
	MessageRateLimit      int
	EphemeralEventsPerSec float64

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PublicBase string
	UploadMaxMB  int64

	KafkaBrokers []string
	KafkaTopic   string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Failed to read config file %s: %v", file, err)
		}
	}

	return &Config{
		AppPort:        v.GetString("APP_PORT"),
		AppMode:        v.GetString("APP_MODE"),
		LogMode:        v.GetString("LOG_MODE"),
		AllowedOrigins: splitList(v.GetString("WS_ALLOWED_ORIGINS")),

		DBHost:     v.GetString("DB_HOST"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBPort:     v.GetString("DB_PORT"),

		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetString("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		RealtimeBackend: strings.ToLower(v.GetString("REALTIME_BACKEND")),

		JWTSecret:    v.GetString("JWT_SECRET"),
		JWTExpiryMin: v.GetInt("JWT_EXPIRY_MIN"),

		TypingTTL:             time.Duration(v.GetInt("TYPING_TTL_MS")) * time.Millisecond,
		ConversationCoalesce:  time.Duration(v.GetInt("CONVERSATION_UPDATE_COALESCE_MS")) * time.Millisecond,
		MessageRateLimit:      v.GetInt("MESSAGE_RATE_LIMIT"),
		EphemeralEventsPerSec: v.GetFloat64("EPHEMERAL_EVENTS_PER_SEC"),

		S3Region:     v.GetString("S3_REGION"),
		S3Bucket:     v.GetString("S3_BUCKET"),
		S3AccessKey:  v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:  v.GetString("S3_SECRET_KEY"),
		S3Endpoint:   v.GetString("S3_ENDPOINT"),
		S3PublicBase: v.GetString("S3_PUBLIC_BASE"),
		UploadMaxMB:  v.GetInt64("UPLOAD_MAX_MB"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_MODE", "debug")
	v.SetDefault("LOG_MODE", "development")
	v.SetDefault("WS_ALLOWED_ORIGINS", "*")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "potluck_chat")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REALTIME_BACKEND", BackendMemory)
	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("JWT_EXPIRY_MIN", 60*24)
	v.SetDefault("TYPING_TTL_MS", 1500)
	v.SetDefault("CONVERSATION_UPDATE_COALESCE_MS", 100)
	v.SetDefault("MESSAGE_RATE_LIMIT", 60)
	v.SetDefault("EPHEMERAL_EVENTS_PER_SEC", 10)
	v.SetDefault("UPLOAD_MAX_MB", 25)
	v.SetDefault("KAFKA_TOPIC", "chat.messages")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=disable TimeZone=UTC"
}

// UsesRedis reports whether presence, typing and room fan-out are shared through redis.
func (c *Config) UsesRedis() bool {
	return c.RealtimeBackend == BackendRedis
}
