package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the quotas the platform has always shipped with:
// 50 requests per 15 minutes on sensitive endpoints, 10 requests per
// second with a burst of 10 everywhere else.
func defaultRateLimit() RateLimit {
	return RateLimit{
		Sensitive: WindowQuota{Requests: 50, Window: Duration(15 * time.Minute)},
		General:   BucketQuota{Rate: 10, Burst: 10},
	}
}

func defaultBroker() Broker {
	return Broker{
		Exchange:         "socialmesh.events",
		ReconnectInitial: Duration(500 * time.Millisecond),
		ReconnectMax:     Duration(30 * time.Second),
		ConnectRetries:   5,
		HandlerRetries:   5,
		PoisonTopic:      "poison",
	}
}

// LoadGateway loads gateway configuration from the given YAML file and
// applies environment overrides.
func LoadGateway(path string) (*Gateway, error) {
	cfg := &Gateway{
		Listen:    ":4000",
		Log:       Log{Level: "info", Format: "json"},
		Redis:     Redis{Address: "localhost:6379", Timeout: Duration(3 * time.Second)},
		RateLimit: defaultRateLimit(),
		Upstream: Upstream{
			Timeout:         Duration(30 * time.Second),
			BreakerFailures: 5,
			BreakerCooldown: Duration(30 * time.Second),
		},
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyEnvString(&cfg.Listen, "GATEWAY_LISTEN")
	applyEnvString(&cfg.Redis.Address, "REDIS_ADDR")
	applyEnvString(&cfg.Redis.Password, "REDIS_PASSWORD")
	applyEnvString(&cfg.Auth.JWTSecret, "JWT_SECRET")

	return cfg, nil
}

// LoadSearch loads search service configuration from the given YAML file
// and applies environment overrides.
func LoadSearch(path string) (*Search, error) {
	cfg := &Search{
		Listen:    ":4004",
		Log:       Log{Level: "info", Format: "json"},
		Redis:     Redis{Address: "localhost:6379", Timeout: Duration(3 * time.Second)},
		Broker:    defaultBroker(),
		Cache:     Cache{TTL: Duration(210 * time.Second), Prefix: "search:"},
		RateLimit: defaultRateLimit(),
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyEnvString(&cfg.Listen, "SEARCH_LISTEN")
	applyEnvString(&cfg.Redis.Address, "REDIS_ADDR")
	applyEnvString(&cfg.Redis.Password, "REDIS_PASSWORD")
	applyEnvString(&cfg.Broker.URL, "AMQP_URL")

	return cfg, nil
}

// LoadPost loads post service configuration from the given YAML file and
// applies environment overrides.
func LoadPost(path string) (*Post, error) {
	cfg := &Post{
		Listen:    ":4002",
		Log:       Log{Level: "info", Format: "json"},
		Redis:     Redis{Address: "localhost:6379", Timeout: Duration(3 * time.Second)},
		Broker:    defaultBroker(),
		RateLimit: defaultRateLimit(),
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyEnvString(&cfg.Listen, "POST_LISTEN")
	applyEnvString(&cfg.Redis.Address, "REDIS_ADDR")
	applyEnvString(&cfg.Redis.Password, "REDIS_PASSWORD")
	applyEnvString(&cfg.Broker.URL, "AMQP_URL")

	return cfg, nil
}

// loadYAML reads and unmarshals the file into out. A missing path is not an
// error; defaults and environment overrides then fully describe the config.
func loadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnvString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
