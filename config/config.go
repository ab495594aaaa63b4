package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	PartnerGate PartnerGateConfig `yaml:"partnergate"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	PackageUpdatedTopicName string `yaml:"package_updated_topic_name"`
	ManifestIngestTopicName string `yaml:"manifest_ingest_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PartnerKeyConfig struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type PartnerGateConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CodePrefix              string `yaml:"code_prefix"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	// allow-list партнёрских ключей; ключи из БД работают поверх него.
	PartnerKeys []PartnerKeyConfig `yaml:"partner_keys"`

	RateLimitBackend       string `yaml:"rate_limit_backend"` // "memory" | "redis"
	RateLimitWindowSeconds int    `yaml:"rate_limit_window_seconds"`
	RateLimitMaxRequests   int64  `yaml:"rate_limit_max_requests"`

	WorkerHTTPAddr           string `yaml:"worker_http_addr"`
	WorkerKafkaConsumerGroup string `yaml:"worker_kafka_consumer_group"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
