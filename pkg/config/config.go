package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvFileVar names the variable pointing at an optional dotenv file. Values in
// the file sit below real environment variables and above defaults.
const EnvFileVar = "MEDCHAT_ENV_FILE"

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	CORSOrigins string

	StoreDriver     string
	DatabasePath    string
	MongoURI        string
	MongoDatabase   string
	JWTSecret       string
	TokenTTL        time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NATSURL         string
	KafkaBrokers    []string
	KafkaAuditTopic string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	RetentionDays int
	HistoryLimit  int
}

var defaults = map[string]any{
	"port":              "4000",
	"environment":       "development",
	"log_level":         "info",
	"cors_origins":      "*",
	"store_driver":      "sqlite",
	"database_path":     "./data/medchat.db",
	"mongodb_uri":       "mongodb://localhost:27017",
	"mongodb_database":  "medchat",
	"jwt_secret":        "change-me-in-production",
	"token_ttl":         "24h",
	"redis_addr":        "",
	"redis_password":    "",
	"redis_db":          0,
	"nats_url":          "",
	"kafka_brokers":     "",
	"kafka_audit_topic": "medchat.audit",
	"vapid_public_key":  "",
	"vapid_private_key": "",
	"vapid_subscriber":  "mailto:push@medchat.local",
	"retention_days":    30,
	"history_limit":     50,
}

func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path, ok := os.LookupEnv(EnvFileVar); ok && path != "" {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		fileValues := make(map[string]any, len(values))
		for key, value := range values {
			fileValues[strings.ToLower(key)] = value
		}
		if err := v.MergeConfigMap(fileValues); err != nil {
			return nil, fmt.Errorf("failed to merge env file: %w", err)
		}
	}

	cfg := &Config{
		Port:            v.GetString("port"),
		Environment:     v.GetString("environment"),
		LogLevel:        v.GetString("log_level"),
		CORSOrigins:     v.GetString("cors_origins"),
		StoreDriver:     strings.ToLower(v.GetString("store_driver")),
		DatabasePath:    v.GetString("database_path"),
		MongoURI:        v.GetString("mongodb_uri"),
		MongoDatabase:   v.GetString("mongodb_database"),
		JWTSecret:       v.GetString("jwt_secret"),
		TokenTTL:        v.GetDuration("token_ttl"),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		NATSURL:         v.GetString("nats_url"),
		KafkaBrokers:    splitList(v.GetString("kafka_brokers")),
		KafkaAuditTopic: v.GetString("kafka_audit_topic"),
		VAPIDPublicKey:  v.GetString("vapid_public_key"),
		VAPIDPrivateKey: v.GetString("vapid_private_key"),
		VAPIDSubscriber: v.GetString("vapid_subscriber"),
		RetentionDays:   v.GetInt("retention_days"),
		HistoryLimit:    v.GetInt("history_limit"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q (want sqlite or mongo)", c.StoreDriver)
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
