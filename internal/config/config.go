package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const DefaultBaseURL = "https://admin.kawaii.partners"

var (
	DefaultColumns = []string{"first_deposits_count", "deposits_count", "deposits_sum", "partner_income", "ngr"}
	DefaultGroupBy = []string{"month", "dynamic_tag_visit_id"}
)

// Account is one report API credential.
type Account struct {
	ID      string `yaml:"id"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Report holds the report request parameters shared by all accounts.
type Report struct {
	Columns            []string `yaml:"columns"`
	GroupBy            []string `yaml:"group_by"`
	ConversionCurrency string   `yaml:"conversion_currency"`
	ExchangeRatesDate  string   `yaml:"exchange_rates_date"`
	Async              bool     `yaml:"async"`
}

type Database struct {
	URL         string `yaml:"url"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	Table       string `yaml:"table"`
	MappingView string `yaml:"mapping_view"`
	Source      string `yaml:"source"`
}

// DSN returns the connection string, preferring an explicit URL.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type Config struct {
	Accounts    []Account     `yaml:"accounts"`
	Report      Report        `yaml:"report"`
	Database    Database      `yaml:"database"`
	RedisAddr   string        `yaml:"redis_addr"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	Port        string        `yaml:"port"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	LogLevelRaw string        `yaml:"log_level"`
	LogLevel    slog.Level    `yaml:"-"`
}

func defaults() Config {
	return Config{
		Report: Report{
			Columns:            DefaultColumns,
			GroupBy:            DefaultGroupBy,
			ConversionCurrency: "EUR",
		},
		Database:    Database{Port: 5432, SSLMode: "disable"},
		LockTTL:     30 * time.Minute,
		Port:        "8080",
		HTTPTimeout: 60 * time.Second,
		MaxRetries:  3,
		LogLevelRaw: "info",
	}
}

// Load builds the configuration from .env, an optional YAML file and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if accts := AccountsFromEnv(); len(accts) > 0 {
		cfg.Accounts = accts
	}
	cfg.Accounts = finalizeAccounts(cfg.Accounts)
	if len(cfg.Report.Columns) == 0 {
		cfg.Report.Columns = DefaultColumns
	}
	if len(cfg.Report.GroupBy) == 0 {
		cfg.Report.GroupBy = DefaultGroupBy
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(cfg.LogLevelRaw)); err != nil {
		return Config{}, fmt.Errorf("log level %q: %w", cfg.LogLevelRaw, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	db := &cfg.Database
	db.URL = envOr("DATABASE_URL", db.URL)
	db.Host = envOr("DB_HOST", db.Host)
	db.User = envOr("DB_USER", db.User)
	db.Password = envOr("DB_PASSWORD", db.Password)
	db.Name = envOr("DB_NAME", db.Name)
	db.SSLMode = envOr("DB_SSLMODE", db.SSLMode)
	db.Table = envOr("FACT_TABLE", db.Table)
	db.MappingView = envOr("MAPPING_VIEW", db.MappingView)
	if v := os.Getenv("DB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		db.Port = p
	}

	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr)
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.LogLevelRaw = envOr("LOG_LEVEL", cfg.LogLevelRaw)
	cfg.Report.ConversionCurrency = envOr("AFFILKA_CONVERSION_CURRENCY", cfg.Report.ConversionCurrency)
	if v := os.Getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		d, err := time.ParseDuration(v + "s")
		if err != nil {
			return fmt.Errorf("HTTP_TIMEOUT_SECONDS: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	if v := os.Getenv("HTTP_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}
	return nil
}

// AccountsFromEnv discovers credentials from the environment. The first
// format that yields anything wins:
//
//	AFFILKA_BASE_URL_N with AFFILKA_TOKEN_N and AFFILKA_TOKEN_N_M
//	AFFILKA_ACCOUNTS=url|token,url|token
//	AFFILKA_BASE_URL with AFFILKA_TOKEN
//	AFFILKA_TOKENS=t1,t2 against AFFILKA_BASE_URL
func AccountsFromEnv() []Account {
	var out []Account
	for i := 1; ; i++ {
		base := os.Getenv(fmt.Sprintf("AFFILKA_BASE_URL_%d", i))
		if base == "" {
			break
		}
		if tok := os.Getenv(fmt.Sprintf("AFFILKA_TOKEN_%d", i)); tok != "" {
			out = append(out, Account{BaseURL: base, Token: tok})
		}
		for j := 1; ; j++ {
			tok := os.Getenv(fmt.Sprintf("AFFILKA_TOKEN_%d_%d", i, j))
			if tok == "" {
				break
			}
			out = append(out, Account{BaseURL: base, Token: tok})
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, pair := range strings.Split(os.Getenv("AFFILKA_ACCOUNTS"), ",") {
		u, tok, ok := strings.Cut(strings.TrimSpace(pair), "|")
		u, tok = strings.TrimSpace(u), strings.TrimSpace(tok)
		if ok && u != "" && tok != "" {
			out = append(out, Account{BaseURL: u, Token: tok})
		}
	}
	if len(out) > 0 {
		return out
	}

	base := envOr("AFFILKA_BASE_URL", DefaultBaseURL)
	if tok := os.Getenv("AFFILKA_TOKEN"); tok != "" {
		return []Account{{BaseURL: base, Token: tok}}
	}

	return lo.FilterMap(strings.Split(os.Getenv("AFFILKA_TOKENS"), ","), func(t string, _ int) (Account, bool) {
		t = strings.TrimSpace(t)
		return Account{BaseURL: base, Token: t}, t != ""
	})
}

// finalizeAccounts drops entries without a token and assigns missing ids.
func finalizeAccounts(accts []Account) []Account {
	accts = lo.Filter(accts, func(a Account, _ int) bool { return strings.TrimSpace(a.Token) != "" })
	for i := range accts {
		if accts[i].BaseURL == "" {
			accts[i].BaseURL = DefaultBaseURL
		}
		accts[i].BaseURL = strings.TrimRight(accts[i].BaseURL, "/")
		if accts[i].ID == "" {
			accts[i].ID = fmt.Sprintf("account_%d", i+1)
		}
	}
	return accts
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
