package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	StorePath string `mapstructure:"store_path"`

	// Entitlement oracle (Unlock-style key API).
	LockAddress string        `mapstructure:"lock_address"`
	ChainID     int           `mapstructure:"chain_id"`
	UnlockAPI   string        `mapstructure:"unlock_api"`
	OracleTTL   time.Duration `mapstructure:"oracle_ttl"`

	// Simulated signaling delay before a session reports connected.
	ConnectDelay time.Duration `mapstructure:"connect_delay"`

	RecordingDir string `mapstructure:"recording_dir"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("store_path", "huddle.db")
	v.SetDefault("lock_address", "0x7A1A37c490112190483c31c0998C08bB24105917")
	v.SetDefault("chain_id", 84532)
	v.SetDefault("unlock_api", "https://api.unlock-protocol.com")
	v.SetDefault("oracle_ttl", "1m")
	v.SetDefault("connect_delay", "2s")
	v.SetDefault("recording_dir", ".")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
