package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BaseURL     string `env:"BASE_URL" envDefault:"https://clicker-api.crashgame247.io"`
	WSURL       string `env:"WS_URL" envDefault:"wss://clicker-socket.crashgame247.io/connection/websocket"`
	ManifestURL string `env:"MANIFEST_URL" envDefault:"https://raw.githubusercontent.com/yummy1gay/WheelOfWhales/main/ts.json"`
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	SessionsDir string `env:"SESSIONS_DIR" envDefault:"sessions"`
	SpinLogFile string `env:"SPIN_LOG_FILE" envDefault:"WheelSpins.txt"`

	AutoTap            bool `env:"AUTO_TAP" envDefault:"true"`
	AutoTasks          bool `env:"AUTO_TASKS" envDefault:"true"`
	AutoClaimRefReward bool `env:"AUTO_CLAIM_REF_REWARD" envDefault:"true"`
	AutoTokenFlip      bool `env:"AUTO_TOKENFLIP" envDefault:"false"`
	AutoEmpire         bool `env:"AUTO_EMPIRE" envDefault:"true"`
	EmpireLevel        int  `env:"EMPIRE_LEVEL" envDefault:"1"`
	AutoResolveEmpire  bool `env:"AUTO_RESOLVE_EMPIRE" envDefault:"false"`
	AutoRenewLicense   bool `env:"AUTO_RENEW_LICENSE" envDefault:"false"`

	ScoreMin int `env:"SCORE_MIN" envDefault:"5"`
	ScoreMax int `env:"SCORE_MAX" envDefault:"30"`

	UseRandomDelayInRun bool `env:"USE_RANDOM_DELAY_IN_RUN" envDefault:"true"`
	StartDelayMin       int  `env:"START_DELAY_MIN" envDefault:"5"`
	StartDelayMax       int  `env:"START_DELAY_MAX" envDefault:"30"`

	SquadName string `env:"SQUAD_NAME" envDefault:"yummy_squad"`
	RefID     string `env:"REF_ID" envDefault:"CGYJGk91pub"`
	NightMode bool   `env:"NIGHT_MODE" envDefault:"false"`

	ProxyURL       string `env:"PROXY_URL"`
	WSWithoutProxy bool   `env:"WS_WITHOUT_PROXY" envDefault:"false"`

	FreeSpinsNotifications bool   `env:"FREE_SPINS_NOTIFICATIONS" envDefault:"false"`
	NotificationsBotToken  string `env:"NOTIFICATIONS_BOT_TOKEN"`
	AdminTGUserID          int64  `env:"ADMIN_TG_USER_ID" envDefault:"0"`

	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE" envDefault:"120"`
	RetryDelay        time.Duration `env:"RETRY_DELAY" envDefault:"30s"`

	Debug       bool   `env:"DEBUG" envDefault:"false"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`
	StatusPort  int    `env:"STATUS_PORT" envDefault:"0"`
	StatusToken string `env:"STATUS_TOKEN"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

// LoadConfigFromEnv parses vars instead of the process environment.
func LoadConfigFromEnv(vars map[string]string) (Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid BASE_URL")
	}
	if u, err := url.ParseRequestURI(c.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid WS_URL")
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("invalid PROXY_URL")
		}
	}
	if c.ScoreMin < 0 || c.ScoreMax < c.ScoreMin {
		return fmt.Errorf("invalid SCORE_MIN/SCORE_MAX")
	}
	if c.StartDelayMin < 0 || c.StartDelayMax < c.StartDelayMin {
		return fmt.Errorf("invalid START_DELAY_MIN/START_DELAY_MAX")
	}
	if c.EmpireLevel < 1 {
		return fmt.Errorf("invalid EMPIRE_LEVEL")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid REQUESTS_PER_MINUTE")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("invalid RETRY_DELAY")
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("invalid STATUS_PORT")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid LOG_FORMAT")
	}
	return nil
}
