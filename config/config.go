package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	BotToken     string `mapstructure:"bot_token"`
	DatabasePath string `mapstructure:"database_path"`
	ListenAddr   string `mapstructure:"listen_addr"`

	Categories  CategoriesConfig  `mapstructure:"categories"`
	Supervision SupervisionConfig `mapstructure:"supervision"`
}

// CategoriesConfig is the transaction category taxonomy.
type CategoriesConfig struct {
	Expense []string `mapstructure:"expense"`
	Income  []string `mapstructure:"income"`
}

// All returns expense and income categories as a single set.
func (c CategoriesConfig) All() []string {
	out := make([]string, 0, len(c.Expense)+len(c.Income))
	out = append(out, c.Expense...)
	out = append(out, c.Income...)
	return out
}

// SupervisionConfig holds timeouts and cooldowns for the connection manager
// and store health checks.
type SupervisionConfig struct {
	InitTimeout      time.Duration `mapstructure:"init_timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	LivenessCooldown time.Duration `mapstructure:"liveness_cooldown"`
	InitCooldown     time.Duration `mapstructure:"init_cooldown"`
	StoreCooldown    time.Duration `mapstructure:"store_cooldown"`
	CheckJitterMax   time.Duration `mapstructure:"check_jitter_max"`
}

// Load reads configuration from the given YAML file, with environment
// overrides. A missing config file is not an error as long as the bot
// token is available from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("database_path", "financeflow.db")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("categories.expense", []string{
		"Food", "Transport", "Housing", "Utilities",
		"Healthcare", "Entertainment", "Shopping", "Other",
	})
	v.SetDefault("categories.income", []string{
		"Salary", "Savings", "Freelance", "Investment", "Gift", "Other Income",
	})
	v.SetDefault("supervision.init_timeout", 30*time.Second)
	v.SetDefault("supervision.probe_timeout", 10*time.Second)
	v.SetDefault("supervision.liveness_cooldown", 5*time.Minute)
	v.SetDefault("supervision.init_cooldown", time.Minute)
	v.SetDefault("supervision.store_cooldown", 10*time.Minute)
	v.SetDefault("supervision.check_jitter_max", 10*time.Second)

	v.BindEnv("bot_token", "BOT_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.BotToken == "" {
		return nil, errors.New("bot token not set: provide BOT_TOKEN or bot_token in config")
	}
	return cfg, nil
}
