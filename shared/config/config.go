package config

import (
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	JwtTTL time.Duration `yaml:"jwt_ttl"` // seconds

	Broker    Broker    `yaml:"broker"`
	Retention Retention `yaml:"retention"`

	BackfillLimit  int `yaml:"backfill_limit"`   // messages returned on subscribe
	MaxMessageLen  int `yaml:"max_message_len"`  // runes
	MessagesPerReq int `yaml:"messages_per_req"` // poll/backfill page cap
}

type Broker struct {
	// Variant selects the transport: "kafka", "changefeed" or "polling".
	// Anything unreachable at startup degrades to polling.
	Variant        string        `yaml:"variant"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // seconds
	PollInterval   time.Duration `yaml:"poll_interval"`   // seconds
}

type Retention struct {
	SoftDeleteAfter time.Duration `yaml:"soft_delete_after"` // days
	HardDeleteAfter time.Duration `yaml:"hard_delete_after"` // days
	SweepInterval   time.Duration `yaml:"sweep_interval"`    // seconds
	SweepBatchSize  int           `yaml:"sweep_batch_size"`
}

type Private struct {
	Pg           Pg     `yaml:"pg"`
	Kafka        Kafka  `yaml:"kafka"`
	Redis        Redis  `yaml:"redis"`
	JwtKey       string `yaml:"jwt_key"`
	IdentitySalt string `yaml:"identity_salt"`
}

type Pg struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // seconds, counts cache expiry
}

func (s *Config) JwtKey() string {
	return s.Private.JwtKey
}

func (s *Config) JwtTTL() time.Duration {
	return s.Public.JwtTTL * time.Second
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	if err := yaml.Unmarshal(configFile, output); err != nil {
		panic("can't unmarshal config file")
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	return &Config{public, private}
}
