package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Network  NetworkConfig  `toml:"network"`
	Database DatabaseConfig `toml:"database"`
	Room     RoomConfig     `toml:"room"`
	Game     GameConfig     `toml:"game"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"` // advertised instance name
	SessionID string `toml:"session_id"`
	StartTime int64  // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress     string        `toml:"bind_address"` // host:port, port 0 = ephemeral
	OutQueueSize    int           `toml:"out_queue_size"`
	CommandQueue    int           `toml:"command_queue_size"`
	FramesPerSecond int           `toml:"frames_per_second"` // per-connection inbound limit, 0 = unlimited
	WriteTimeout    time.Duration `toml:"write_timeout"`
	MaxFrameBytes   int64         `toml:"max_frame_bytes"`
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty = run without persistence
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type RoomConfig struct {
	MaxPlayers      int  `toml:"max_players"`
	UniqueNicknames bool `toml:"unique_nicknames"`
}

type GameConfig struct {
	DefaultPack    string `toml:"default_pack"`
	PackDefinition string `toml:"pack_definition"` // YAML deck definition, empty = built-in
	ScriptsDir     string `toml:"scripts_dir"`     // Lua pack scripts, empty = none
	Seed           int64  `toml:"seed"`            // 0 = non-deterministic shuffle
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "Board Go",
			SessionID: "default-session",
		},
		Network: NetworkConfig{
			BindAddress:     "0.0.0.0:0",
			OutQueueSize:    64,
			CommandQueue:    256,
			FramesPerSecond: 30,
			WriteTimeout:    10 * time.Second,
			MaxFrameBytes:   64 * 1024,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    5,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Room: RoomConfig{
			MaxPlayers:      8,
			UniqueNicknames: true,
		},
		Game: GameConfig{
			DefaultPack: "simple-cards",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
