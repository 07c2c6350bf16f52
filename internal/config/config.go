package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeZone       = "Asia/Kolkata"
	DefaultQueryBase      = "is:unread has:attachment filename:xlsx"
	DefaultMaxResults     = 50
	DefaultSchema         = "daily"
	DefaultTable          = "statement_txn"
	DefaultRegistryTable  = "ingest_file_registry"
	DefaultBatchSize      = 200
	DefaultDBRetry        = 1
	DefaultReceiptPrefix  = "[Mail2Ledger]"
	DefaultPollSeconds    = 60
	DefaultMaxPollSeconds = 600
	DefaultDetectRows     = 200
	DefaultDetectCols     = 60
	DefaultModelName      = "gemini-2.5-flash"
	DefaultDigestSchedule = "0 8 * * *"

	// DefaultClassifyTimeout bounds a single row classification call.
	DefaultClassifyTimeout = 60 * time.Second
)

var (
	ErrNoSources     = errors.New("no ingest sources configured")
	ErrInvalidSource = errors.New("invalid ingest source")
)

// Config is loaded once at startup and passed by value; nothing mutates it afterwards.
type Config struct {
	Mail       MailConfig            `yaml:"mail"`
	Ingest     IngestConfig          `yaml:"ingest"`
	Notify     NotifyConfig          `yaml:"notify"`
	Banks      map[string]BankConfig `yaml:"banks"`
	Sources    []SourceConfig        `yaml:"sources"`
	AI         AIConfig              `yaml:"ai"`
	Poll       PollConfig            `yaml:"poll"`
	Archive    ArchiveConfig         `yaml:"archive"`
	Digest     DigestConfig          `yaml:"digest"`
	SignPolicy SignPolicyConfig      `yaml:"sign_policy"`
}

type MailConfig struct {
	QueryBase       string `yaml:"query_base"`
	MaxResults      int64  `yaml:"max_results"`
	AllowXLS        bool   `yaml:"allow_xls"`
	CredentialsPath string `yaml:"credentials_path"`
	TokenPath       string `yaml:"token_path"`
}

type IngestConfig struct {
	Schema            string        `yaml:"schema"`
	Table             string        `yaml:"table"`
	RegistryTable     string        `yaml:"registry_table"`
	BatchSize         int           `yaml:"batch_size"`
	DBRetry           int           `yaml:"db_retry"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	DefaultHeaderRow  int           `yaml:"default_header_row"`
	DetectTables      bool          `yaml:"detect_tables"`
	DefaultSheetNames []string      `yaml:"default_sheet_names"`
	DefaultPassword   string        `yaml:"default_password"`
	KeepUnnamed       bool          `yaml:"keep_unnamed_columns"`
	KeepBlankRows     bool          `yaml:"keep_blank_rows"`
}

// BankConfig overrides the global ingest defaults for one bank code.
type BankConfig struct {
	HeaderRow    *int     `yaml:"header_row"`
	DetectTables *bool    `yaml:"detect_tables"`
	SheetNames   []string `yaml:"sheet_names"`
	Password     string   `yaml:"password"`
}

// SourceConfig is one mailbox label watched by the poller.
type SourceConfig struct {
	Label       string `yaml:"label"`
	ClientID    int64  `yaml:"client_id"`
	DefaultBank string `yaml:"default_bank"`
	Query       string `yaml:"query"`
}

type NotifyConfig struct {
	SendAlerts           bool   `yaml:"send_alerts"`
	AlertTo              string `yaml:"alert_to"`
	SendReceipt          bool   `yaml:"send_receipt"`
	ReceiptSubjectPrefix string `yaml:"receipt_subject_prefix"`
}

type AIConfig struct {
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
	DetectRows      int           `yaml:"detect_rows"`
	DetectCols      int           `yaml:"detect_cols"`
}

type PollConfig struct {
	BaseSeconds int `yaml:"base_seconds"`
	MaxSeconds  int `yaml:"max_seconds"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
	BaseURL string `yaml:"base_url"`
}

type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	TimeZone string `yaml:"time_zone"`
}

// SignPolicyConfig feeds the amount sign rule table.
type SignPolicyConfig struct {
	SecondarySheetIndex int      `yaml:"secondary_sheet_index"`
	InvertTypes         []string `yaml:"invert_types"`
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		Mail: MailConfig{
			QueryBase:       DefaultQueryBase,
			MaxResults:      DefaultMaxResults,
			CredentialsPath: "credentials.json",
			TokenPath:       "token.json",
		},
		Ingest: IngestConfig{
			Schema:        DefaultSchema,
			Table:         DefaultTable,
			RegistryTable: DefaultRegistryTable,
			BatchSize:     DefaultBatchSize,
			DBRetry:       DefaultDBRetry,
			RetryBackoff:  500 * time.Millisecond,
		},
		Notify: NotifyConfig{
			SendAlerts:           true,
			SendReceipt:          true,
			ReceiptSubjectPrefix: DefaultReceiptPrefix,
		},
		Banks: map[string]BankConfig{},
		AI: AIConfig{
			Model:           DefaultModelName,
			ClassifyTimeout: DefaultClassifyTimeout,
			DetectRows:      DefaultDetectRows,
			DetectCols:      DefaultDetectCols,
		},
		Poll: PollConfig{
			BaseSeconds: DefaultPollSeconds,
			MaxSeconds:  DefaultMaxPollSeconds,
		},
		Archive: ArchiveConfig{
			Prefix: "bankstatements/",
		},
		Digest: DigestConfig{
			Schedule: DefaultDigestSchedule,
			TimeZone: DefaultTimeZone,
		},
		SignPolicy: SignPolicyConfig{
			SecondarySheetIndex: 1,
			InvertTypes:         []string{"subscription", "redemption"},
		},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := envInt("MAIL2LEDGER_POLL_SECONDS"); v > 0 {
		cfg.Poll.BaseSeconds = v
	}
	if v := envInt("MAIL2LEDGER_MAX_POLL_SECONDS"); v > 0 {
		cfg.Poll.MaxSeconds = v
	}
	if v := strings.TrimSpace(os.Getenv("MAIL2LEDGER_ALERT_TO")); v != "" {
		cfg.Notify.AlertTo = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BANK_STMT_S3_BUCKET")); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("BANK_STMT_S3_REGION")); v != "" {
		cfg.Archive.Region = v
	}
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (c *Config) normalize() error {
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = DefaultBatchSize
	}
	if c.Ingest.DBRetry < 0 {
		c.Ingest.DBRetry = 0
	}
	if c.Mail.MaxResults <= 0 {
		c.Mail.MaxResults = DefaultMaxResults
	}
	if c.Poll.BaseSeconds <= 0 {
		c.Poll.BaseSeconds = DefaultPollSeconds
	}
	if c.Poll.MaxSeconds < c.Poll.BaseSeconds {
		c.Poll.MaxSeconds = c.Poll.BaseSeconds
	}
	if c.AI.ClassifyTimeout <= 0 {
		c.AI.ClassifyTimeout = DefaultClassifyTimeout
	}

	banks := make(map[string]BankConfig, len(c.Banks))
	for code, b := range c.Banks {
		banks[BankCode(code)] = b
	}
	c.Banks = banks

	for i, src := range c.Sources {
		if strings.TrimSpace(src.Label) == "" || src.ClientID <= 0 {
			return fmt.Errorf("%w: sources[%d] needs label and client_id", ErrInvalidSource, i)
		}
		c.Sources[i].DefaultBank = BankCode(src.DefaultBank)
	}
	return nil
}

// PollInterval returns the base and ceiling intervals of the poll loop.
func (c Config) PollInterval() (base, max time.Duration) {
	return time.Duration(c.Poll.BaseSeconds) * time.Second, time.Duration(c.Poll.MaxSeconds) * time.Second
}

// BankCode canonicalizes a bank name into the key used by the banks section.
func BankCode(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
