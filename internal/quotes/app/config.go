package app

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"streamex.com/internal/quotes/datasource/binance"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/hub"
	"streamex.com/pkg/config"
)

const ServiceName = "stream-server"

// 总配置
type Config struct {
	Name            string          `mapstructure:"name" yaml:"name"`
	LiveData        bool            `mapstructure:"live_data" yaml:"live_data"`
	HTTP            HTTPConfig      `mapstructure:"http" yaml:"http"`
	Log             LogConfig       `mapstructure:"log" yaml:"log"`
	Hub             HubConfig       `mapstructure:"hub" yaml:"hub"`
	Frequency       FrequencyConfig `mapstructure:"frequency" yaml:"frequency"`
	Binance         BinanceConfig   `mapstructure:"binance" yaml:"binance"`
	Session         SessionConfig   `mapstructure:"session" yaml:"session"`
	Bus             BusConfig       `mapstructure:"bus" yaml:"bus"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type HTTPConfig struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Pprof bool   `mapstructure:"pprof" yaml:"pprof"`
	// api 路由限流（每 ip+route）
	APIRate  float64 `mapstructure:"api_rate" yaml:"api_rate"`
	APIBurst int     `mapstructure:"api_burst" yaml:"api_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type HubConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

type FrequencyConfig struct {
	InitialMs int64 `mapstructure:"initial_ms" yaml:"initial_ms"`
}

type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Symbols        []string      `mapstructure:"symbols" yaml:"symbols"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	Stagger        time.Duration `mapstructure:"stagger" yaml:"stagger"`
	PingPeriod     time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

type SessionConfig struct {
	PongWait     time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	PingPeriod   time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	ReadLimit    int64         `mapstructure:"read_limit" yaml:"read_limit"`
	ControlRate  float64       `mapstructure:"control_rate" yaml:"control_rate"` // frames/s, 0 = off; over-limit frames are coalesced
	ControlBurst int           `mapstructure:"control_burst" yaml:"control_burst"`
}

type BusConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	URL     string   `mapstructure:"url" yaml:"url"`
	Topics  []string `mapstructure:"topics" yaml:"topics"`
}

// Defaults is the lowest-precedence layer of the config.
func Defaults() map[string]any {
	return map[string]any{
		"name":                    ServiceName,
		"live_data":               false,
		"http.addr":               ":3000",
		"http.pprof":              false,
		"http.api_rate":           50,
		"http.api_burst":          100,
		"log.level":               "info",
		"log.file":                "",
		"hub.capacity":            hub.DefaultCapacity,
		"frequency.initial_ms":    freq.DefaultMs,
		"binance.base_url":        binance.DefaultBaseURL,
		"binance.symbols":         []string{"btcusdt", "ethusdt", "solusdt"},
		"binance.reconnect_delay": "5s",
		"binance.stagger":         "100ms",
		"binance.ping_period":     "30s",
		"binance.pong_wait":       "60s",
		"binance.dial_timeout":    "10s",
		"session.pong_wait":       "60s",
		"session.ping_period":     "30s",
		"session.write_wait":      "5s",
		"session.read_limit":      4096,
		"session.control_rate":    0,
		"session.control_burst":   10,
		"bus.enabled":             false,
		"bus.url":                 "nats://127.0.0.1:4222",
		"bus.topics":              []string{},
		"shutdown_timeout":        "5s",
	}
}

// Flags are the command-line overrides; flag names map to config keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet(ServiceName, pflag.ContinueOnError)
	fs.Bool("live-data", false, "ingest live exchange data instead of simulating")
	fs.String("http.addr", ":3000", "listen address")
	fs.String("log.level", "info", "log level: debug, info, warn, error")
	fs.Bool("http.pprof", false, "expose /debug/pprof")
	return fs
}

// LoadConfig merges defaults, config/stream-server.yaml, env and args.
func LoadConfig(args []string) (Config, *viper.Viper, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}
	var cfg Config
	v, err := config.Load(config.Options{
		Service:    ServiceName,
		Defaults:   Defaults(),
		Flags:      fs,
		EnvAliases: map[string][]string{"live_data": {"STREAM_SERVER_LIVE_DATA", "USE_LIVE_DATA"}},
	}, &cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}
