package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/inventory-saga/pkg/utils"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Log      Log    `yaml:"log"`
	Postgres PG     `yaml:"postgres"`
	Redis    Redis  `yaml:"redis"`
	Kafka    Kafka  `yaml:"kafka"`
	Ledger   Ledger `yaml:"ledger"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env-default:"10m"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	GroupID       string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"inventory-saga-group"`
	ConsumeTopics []string `yaml:"consume_topics" env:"KAFKA_CONSUME_TOPICS" env-separator:","`
	PublishTopic  string   `yaml:"publish_topic" env:"KAFKA_PUBLISH_TOPIC" env-default:"inventory_events"`
}

type Ledger struct {
	MaxCASRetries uint `yaml:"max_cas_retries" env-default:"5"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
