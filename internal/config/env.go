package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap"
)

type AppEnv string

const (
	AppEnvDev  AppEnv = "dev"
	AppEnvProd AppEnv = "prod"
)

// EnvConfig holds all environment variables read at broker startup.
type EnvConfig struct {
	AppEnv  AppEnv `env:"APP_ENV" envDefault:"prod"`
	AppName string `env:"APP_NAME" envDefault:"sshbrokerd"`
	Debug   bool   `env:"DEBUG" envDefault:"false"`

	DataDir string `env:"DATA_DIR"`

	DefaultSSHPort   int `env:"DEFAULT_SSH_PORT" envDefault:"22"`
	ConnectionTimeoutMs int `env:"CONNECTION_TIMEOUT" envDefault:"10000"`
	ReconnectAttempts   int `env:"RECONNECT_ATTEMPTS" envDefault:"3"`
	ReconnectDelayMs    int `env:"RECONNECT_DELAY" envDefault:"5000"`
	CommandTimeoutMs    int `env:"COMMAND_TIMEOUT" envDefault:"10000"`

	OutputTruncateChars int `env:"OUTPUT_TRUNCATE_CHARS" envDefault:"10000"`

	ContainerSessionTTLMinutes int `env:"CONTAINER_SESSION_TTL_MINUTES" envDefault:"30"`
	ContainerListCacheSeconds  int `env:"CONTAINER_LIST_CACHE_SECONDS" envDefault:"30"`

	TerminalIdleTimeoutHours int `env:"TERMINAL_IDLE_TIMEOUT_HOURS" envDefault:"24"`
	TransferSweepIntervalMinutes int `env:"TRANSFER_SWEEP_INTERVAL_MINUTES" envDefault:"60"`
	TransferRetentionHours       int `env:"TRANSFER_RETENTION_HOURS" envDefault:"1"`

	CredentialSealKey string `env:"CREDENTIAL_SEAL_KEY"`
}

var (
	appConfig *EnvConfig
	once      sync.Once
)

// loadConfig loads and validates all environment variables.
func loadConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		cfg.DataDir = filepath.Join(home, ".sshbroker")
	}
	return cfg, nil
}

// InitConfig initializes the config only once.
func InitConfig() (*EnvConfig, error) {
	var err error
	once.Do(func() {
		appConfig, err = loadConfig()
		if err == nil {
			zap.L().Info("config loaded", zap.String("dataDir", appConfig.DataDir))
		}
	})
	return appConfig, err
}

// Env returns the config. Panics if not initialized.
func Env() *EnvConfig {
	if appConfig == nil {
		zap.L().Panic("config not initialized — call InitConfig() first")
	}
	return appConfig
}
