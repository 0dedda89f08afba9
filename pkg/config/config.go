package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the server.
type Config struct {
	Addr      string        `yaml:"addr" validate:"required"`
	StaticDir string        `yaml:"static_dir"`
	JWTSecret string        `yaml:"jwt_secret" validate:"required"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
	LogLevel  string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile   string        `yaml:"log_file"`
	TLSCert   string        `yaml:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey    string        `yaml:"tls_key" validate:"required_with=TLSCert"`
	ClientCA  string        `yaml:"client_ca"`

	// CORSOrigins lists allowed browser origins; empty allows any.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,url"`

	Database Database `yaml:"database"`
	LLM      LLM      `yaml:"llm"`
	Agent    Agent    `yaml:"agent"`
}

// Database selects and configures the persistence backend.
type Database struct {
	Driver     string `yaml:"driver" validate:"oneof=sqlite mysql memory"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	MySQLDSN   string `yaml:"mysql_dsn"`
	MySQLHost  string `yaml:"mysql_host"`
	MySQLPort  string `yaml:"mysql_port"`
	MySQLUser  string `yaml:"mysql_user"`
	MySQLPass  string `yaml:"mysql_pass"`
	MySQLDB    string `yaml:"mysql_db"`
}

// LLM configures the chat-completion endpoint.
type LLM struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Model     string        `yaml:"model" validate:"required"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxTokens int           `yaml:"max_tokens" validate:"min=1"`
	Referer   string        `yaml:"referer"`
	Title     string        `yaml:"title"`
}

// Agent configures the TAO controller and its worker pool.
type Agent struct {
	MaxIterations  int           `yaml:"max_iterations" validate:"min=1"`
	IterationDelay time.Duration `yaml:"iteration_delay" validate:"gte=0"`
	Workers        int           `yaml:"workers" validate:"min=1"`
	QueueSize      int           `yaml:"queue_size" validate:"min=1"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Addr:      ":5001",
		StaticDir: "static",
		JWTSecret: "change-me-secret",
		TokenTTL:  24 * time.Hour,
		LogLevel:  "info",
		Database: Database{
			Driver:     "sqlite",
			SQLitePath: "data/app.db",
			MySQLHost:  "127.0.0.1",
			MySQLPort:  "3306",
			MySQLUser:  "root",
			MySQLDB:    "lynus",
		},
		LLM: LLM{
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "openai/gpt-oss-20b:free",
			Timeout:   30 * time.Second,
			MaxTokens: 2000,
			Referer:   "https://lynus.ai",
			Title:     "Lynus AI Agent",
		},
		Agent: Agent{
			MaxIterations:  10,
			IterationDelay: time.Second,
			Workers:        4,
			QueueSize:      64,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (with ${VAR} expansion), a .env file in the working directory and the
// process environment, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, fmt.Errorf("parse YAML: %w", err)
		}
	}
	if err := loadDotEnv(); err != nil {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints declared on the struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "LYNUS_ADDR")
	setString(&cfg.StaticDir, "LYNUS_STATIC_DIR")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFile, "LOG_FILE")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}

	setString(&cfg.Database.Driver, "LYNUS_STORE")
	setString(&cfg.Database.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Database.MySQLDSN, "MYSQL_DSN")
	setString(&cfg.Database.MySQLHost, "MYSQL_HOST")
	setString(&cfg.Database.MySQLPort, "MYSQL_PORT")
	setString(&cfg.Database.MySQLUser, "MYSQL_USER")
	setString(&cfg.Database.MySQLPass, "MYSQL_PASS")
	setString(&cfg.Database.MySQLDB, "MYSQL_DB")

	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.APIKey, "OPENROUTER_API_KEY")

	if err := setDuration(&cfg.TokenTTL, "TOKEN_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.LLM.Timeout, "LLM_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Agent.IterationDelay, "AGENT_ITERATION_DELAY"); err != nil {
		return err
	}
	if err := setInt(&cfg.Agent.Workers, "AGENT_WORKERS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Agent.QueueSize, "AGENT_QUEUE_SIZE"); err != nil {
		return err
	}
	return setInt(&cfg.Agent.MaxIterations, "AGENT_MAX_ITERATIONS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
