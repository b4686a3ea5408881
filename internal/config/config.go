package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort    int    `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost    string `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	JWT        `yaml:"jwt"`
	Storage    `yaml:"storage"`
	Postgres   `yaml:"postgres"`
	Migrations `yaml:"migrations"`
	Ledger     `yaml:"ledger"`
	Events     `yaml:"events"`
}

type JWT struct {
	Secret   string        `yaml:"secret" env:"JWT_SECRET" env-default:"secret42212"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" env-default:"24h"`
}

type Storage struct {
	Driver    string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	OpTimeout time.Duration `yaml:"op_timeout" env:"STORAGE_OP_TIMEOUT" env-default:"5s"`
}

type Postgres struct {
	Host         string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port         string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User         string `yaml:"user" env:"POSTGRES_USER" env-default:"test"`
	Pass         string `yaml:"pass" env:"POSTGRES_PASS" env-default:"12345"`
	Db           string `yaml:"db" env:"POSTGRES_DB" env-default:"test_db"`
	SSLMode      string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS" env-default:"20"`
}

type Migrations struct {
	Path       string `yaml:"path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	Table      string `yaml:"table" env:"MIGRATIONS_TABLE" env-default:"migrations"`
	RunOnStart bool   `yaml:"run_on_start" env:"MIGRATIONS_RUN_ON_START" env-default:"false"`
}

// Ledger holds the transfer policy. Amounts are decimal strings.
type Ledger struct {
	StartingBalance   string `yaml:"starting_balance" env:"LEDGER_STARTING_BALANCE" env-default:"500"`
	MaxTransferAmount string `yaml:"max_transfer_amount" env:"LEDGER_MAX_TRANSFER_AMOUNT" env-default:"0"`
	MaxRetries        int    `yaml:"max_retries" env:"LEDGER_MAX_RETRIES" env-default:"3"`
	BcryptCost        int    `yaml:"bcrypt_cost" env:"LEDGER_BCRYPT_COST" env-default:"10"`
}

type Events struct {
	Enabled       bool          `yaml:"enabled" env:"EVENTS_ENABLED" env-default:"false"`
	Brokers       []string      `yaml:"brokers" env:"EVENTS_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic         string        `yaml:"topic" env:"EVENTS_TOPIC" env-default:"ledger.transactions"`
	RelaySchedule string        `yaml:"relay_schedule" env:"EVENTS_RELAY_SCHEDULE" env-default:"@every 2s"`
	PurgeSchedule string        `yaml:"purge_schedule" env:"EVENTS_PURGE_SCHEDULE" env-default:"@daily"`
	Retention     time.Duration `yaml:"retention" env:"EVENTS_RETENTION" env-default:"168h"`
	BatchSize     int           `yaml:"batch_size" env:"EVENTS_BATCH_SIZE" env-default:"100"`
}

func MustLoad() *Config {
	if err := loadEnvFile(".env"); err != nil {
		panic("Failed to read .env: " + err.Error())
	}

	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	start, err := c.Ledger.StartingBalanceAmount()
	if err != nil {
		return err
	}
	if start.IsNegative() {
		return fmt.Errorf("starting balance must not be negative")
	}

	limit, err := c.Ledger.MaxTransferAmountLimit()
	if err != nil {
		return err
	}
	if limit.IsNegative() {
		return fmt.Errorf("max transfer amount must not be negative")
	}

	if c.Ledger.BcryptCost < bcrypt.MinCost || c.Ledger.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events enabled without brokers")
	}

	return nil
}

func (l Ledger) StartingBalanceAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(l.StartingBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid starting balance %q: %w", l.StartingBalance, err)
	}
	return d, nil
}

// MaxTransferAmountLimit returns the per-transfer cap; zero means no cap.
func (l Ledger) MaxTransferAmountLimit() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(l.MaxTransferAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid max transfer amount %q: %w", l.MaxTransferAmount, err)
	}
	return d, nil
}

func (p Postgres) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User,
		p.Pass,
		p.Host,
		p.Port,
		p.Db,
		p.SSLMode,
	)
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}

// loadEnvFile exports the variables in path that are not already set in the
// environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
