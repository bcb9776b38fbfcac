package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/agos/pkg/rabbitmq"
)

type Config struct {
	HTTPPort int
	GRPCPort int

	ThresholdsPath string // vuoto = soglie di default (pollici)
	RecipientsPath string
	OperatorTokens string // "alice=tok1,bob=tok2"
	AllowedOrigins []string

	CommandTTL    time.Duration
	CommandMaxTTL time.Duration

	HubSendTimeout time.Duration
	HubBuffer      int

	DedupTTL time.Duration
	DedupMax int

	OutboxSize  int
	SinkTimeout time.Duration

	// MQTT (opzionale)
	MQTTEnabled bool
	Rabbit      rabbitmq.RabbitMQConfig
	IngestTopic string
	UpdateTopic string

	// InfluxDB (opzionale: URL vuoto disabilita il recorder)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	CBFails      int
	CBOpenMs     int
	CBIntervalMs int
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key, def string) []string {
	parts := strings.Split(env(key, def), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func loadConfig() Config {
	return Config{
		HTTPPort: envInt("HTTP_PORT", 8080),
		GRPCPort: envInt("GRPC_PORT", 50051),

		ThresholdsPath: env("THRESHOLDS_PATH", ""),
		RecipientsPath: env("RECIPIENTS_PATH", "/app/data/recipients.json"),
		OperatorTokens: os.Getenv("OPERATOR_TOKENS"),
		AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", "*"),

		CommandTTL:    envDuration("COMMAND_TTL", 10*time.Minute),
		CommandMaxTTL: envDuration("COMMAND_MAX_TTL", 24*time.Hour),

		HubSendTimeout: time.Duration(envInt("HUB_SEND_TIMEOUT_MS", 5000)) * time.Millisecond,
		HubBuffer:      envInt("HUB_BUFFER", 16),

		DedupTTL: envDuration("DEDUP_TTL", 10*time.Minute),
		DedupMax: envInt("DEDUP_MAX", 20000),

		OutboxSize:  envInt("OUTBOX_SIZE", 256),
		SinkTimeout: time.Duration(envInt("SINK_TIMEOUT_MS", 3000)) * time.Millisecond,

		MQTTEnabled: envBool("MQTT_ENABLED", true),
		Rabbit: rabbitmq.RabbitMQConfig{
			Host:     env("RABBITMQ_HOST", "localhost"),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     env("RABBITMQ_USER", "guest"),
			Password: env("RABBITMQ_PASSWORD", "guest"),
			ClientID: env("HOSTNAME", "agos-coordinator"),
		},
		IngestTopic: env("MQTT_INGEST_TOPIC", "agos/telemetry/ingest"),
		UpdateTopic: env("MQTT_UPDATE_TOPIC", "agos/telemetry/update"),

		InfluxURL:    env("INFLUX_URL", ""),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    env("INFLUX_ORG", "agos"),
		InfluxBucket: env("INFLUX_BUCKET", "telemetry"),
		CBFails:      envInt("CB_INFLUX_FAILS", 3),
		CBOpenMs:     envInt("CB_INFLUX_OPEN_MS", 30000),
		CBIntervalMs: envInt("CB_INFLUX_INTERVAL_MS", 60000),
	}
}
