// Package config loads the TOML configuration of busrpc processes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"

	"github.com/mrjvadi/busrpc/bus/redisbus"
	"github.com/mrjvadi/busrpc/busrpc"
)

// Duration is a time.Duration written as "500ms" or "2s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// RedisConfig defines the Redis connection.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// BusConfig defines the Redis Streams layout.
type BusConfig struct {
	Prefix       string   `toml:"prefix"`
	Group        string   `toml:"group"`
	Consumer     string   `toml:"consumer"`
	StreamLength int64    `toml:"streamLength"`
	PollBlock    Duration `toml:"pollBlock"`
	// ClaimIdle is how long a delivery may stay unacknowledged before
	// another worker takes it over.
	ClaimIdle Duration `toml:"claimIdle"`
}

// ServerConfig defines how a worker consumes.
type ServerConfig struct {
	Exchange string `toml:"exchange"`
	Queue    string `toml:"queue"`
	MaxJobs  int    `toml:"maxJobs"`
	Prefetch int    `toml:"prefetch"`
}

// ClientConfig defines call defaults.
type ClientConfig struct {
	Exchange       string   `toml:"exchange"`
	RoutingKey     string   `toml:"routingKey"`
	Timeout        Duration `toml:"timeout"`
	ReconnectDelay Duration `toml:"reconnectDelay"`
}

// Config aggregates the settings of a worker or client process.
type Config struct {
	Redis   RedisConfig   `toml:"redis"`
	Bus     BusConfig     `toml:"bus"`
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Logging LoggingConfig `toml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads a TOML file from path. Missing keys take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %s", undecoded[0])
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Bus.Prefix == "" {
		cfg.Bus.Prefix = "busrpc"
	}
	if cfg.Bus.Group == "" {
		cfg.Bus.Group = "busrpc"
	}
	if cfg.Server.Queue == "" {
		cfg.Server.Queue = busrpc.DefaultQueue
	}
	if cfg.Server.MaxJobs == 0 {
		cfg.Server.MaxJobs = 10
	}
	if cfg.Client.RoutingKey == "" {
		cfg.Client.RoutingKey = cfg.Server.Queue
	}
	if cfg.Client.Exchange == "" {
		cfg.Client.Exchange = cfg.Server.Exchange
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func (cfg *Config) validate() error {
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must not be negative")
	}
	if cfg.Server.MaxJobs < 0 {
		return fmt.Errorf("config: server.maxJobs must not be negative")
	}
	if cfg.Server.Prefetch < 0 {
		return fmt.Errorf("config: server.prefetch must not be negative")
	}
	if cfg.Bus.ClaimIdle.Duration < 0 {
		return fmt.Errorf("config: bus.claimIdle must not be negative")
	}
	if cfg.Bus.StreamLength < 0 {
		return fmt.Errorf("config: bus.streamLength must not be negative")
	}
	if cfg.Client.Timeout.Duration < 0 {
		return fmt.Errorf("config: client.timeout must not be negative")
	}
	if cfg.Client.Exchange != cfg.Server.Exchange {
		// replies are published on the server exchange
		return fmt.Errorf("config: client.exchange %q differs from server.exchange %q", cfg.Client.Exchange, cfg.Server.Exchange)
	}
	return cfg.Logging.validate()
}

// RedisOptions returns the go-redis options of the connection.
func (cfg *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// BusOptions returns the Redis Streams connector options.
func (cfg *Config) BusOptions() []redisbus.Option {
	opts := []redisbus.Option{
		redisbus.WithPrefix(cfg.Bus.Prefix),
		redisbus.WithGroup(cfg.Bus.Group),
		redisbus.WithConsumerName(cfg.Bus.Consumer),
	}
	if cfg.Bus.StreamLength > 0 {
		opts = append(opts, redisbus.WithStreamLength(cfg.Bus.StreamLength))
	}
	if cfg.Bus.PollBlock.Duration > 0 {
		opts = append(opts, redisbus.WithPollBlock(cfg.Bus.PollBlock.Duration))
	}
	if cfg.Bus.ClaimIdle.Duration > 0 {
		opts = append(opts, redisbus.WithClaimIdle(cfg.Bus.ClaimIdle.Duration))
	}
	return opts
}

func (cfg *Config) ServerOptions() []busrpc.ServerOption {
	return []busrpc.ServerOption{
		busrpc.WithServerExchange(cfg.Server.Exchange),
		busrpc.WithDefaultQueue(cfg.Server.Queue),
		busrpc.WithMaxJobs(cfg.Server.MaxJobs),
		busrpc.WithPrefetch(cfg.Server.Prefetch),
	}
}

func (cfg *Config) ClientOptions() []busrpc.ClientOption {
	opts := []busrpc.ClientOption{
		busrpc.WithDefaultExchange(cfg.Client.Exchange),
		busrpc.WithDefaultRoutingKey(cfg.Client.RoutingKey),
		busrpc.WithReconnectDelay(cfg.Client.ReconnectDelay.Duration),
	}
	if cfg.Client.Timeout.Duration > 0 {
		opts = append(opts, busrpc.WithDefaultTimeout(cfg.Client.Timeout.Duration))
	}
	return opts
}
