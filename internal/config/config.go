package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// AUTOCAT_CATEGORIZE_MIN_CONFIDENCE.
const EnvPrefix = "AUTOCAT"

// Config is the full run configuration.
type Config struct {
	Actual     ActualConfig
	OpenAI     OpenAIConfig
	LocalModel LocalModelConfig
	Categorize CategorizeConfig
	History    HistoryConfig
	Logging    LoggingConfig
}

// ActualConfig locates the budget server and budget file.
type ActualConfig struct {
	ServerURL          string
	Password           string
	SyncID             string
	EncryptionPassword string
	LookbackDays       int
	Timeout            time.Duration
}

// OpenAIConfig configures the remote classifier.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	ChunkSize  int
	Pacing     time.Duration
	MaxRetries int // Retries after the first attempt
	Timeout    time.Duration
}

// LocalModelConfig configures the local model subprocess.
type LocalModelConfig struct {
	Dir       string
	ModelFile string
	Command   string
	Args      []string
	Timeout   time.Duration
}

// CategorizeConfig holds the decision options of a run.
type CategorizeConfig struct {
	MinConfidence float64
	Limit         int
	DryRun        bool
	CreateRules   bool
	UseOpenAI     bool
}

// HistoryConfig configures the run journal.
type HistoryConfig struct {
	Path    string
	Enabled bool
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string
	Format string
}

// envAliases are the variable names used by existing Actual tooling.
var envAliases = map[string][]string{
	"actual.server_url":          {"ACTUAL_SERVER_URL"},
	"actual.password":            {"ACTUAL_PASSWORD"},
	"actual.sync_id":             {"ACTUAL_SYNC_ID", "ACTUAL_BUDGET_ID"},
	"actual.encryption_password": {"ACTUAL_ENCRYPTION_PASSWORD"},
	"openai.api_key":             {"OPENAI_API_KEY"},
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("actual.lookback_days", 90)
	v.SetDefault("actual.timeout", 30*time.Second)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chunk_size", 20)
	v.SetDefault("openai.pacing", 500*time.Millisecond)
	v.SetDefault("openai.max_retries", 1)
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("local_model.dir", "./trainer")
	v.SetDefault("local_model.model_file", "model.joblib")
	v.SetDefault("local_model.command", "uv")
	v.SetDefault("local_model.args", []string{"run", "python", "-m", "trainer.predict"})
	v.SetDefault("local_model.timeout", 2*time.Minute)

	v.SetDefault("categorize.min_confidence", 0.85)
	v.SetDefault("categorize.limit", 0)
	v.SetDefault("categorize.dry_run", false)
	v.SetDefault("categorize.create_rules", false)
	v.SetDefault("categorize.use_openai", false)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "$HOME/.local/share/autocat/autocat.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, aliases := range envAliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, prefixed}, aliases...)...)
	}
}

// Load builds a Config from v. Paths are expanded; no validation is done.
func Load(v *viper.Viper) *Config {
	return &Config{
		Actual: ActualConfig{
			ServerURL:          strings.TrimSpace(v.GetString("actual.server_url")),
			Password:           v.GetString("actual.password"),
			SyncID:             strings.TrimSpace(v.GetString("actual.sync_id")),
			EncryptionPassword: v.GetString("actual.encryption_password"),
			LookbackDays:       v.GetInt("actual.lookback_days"),
			Timeout:            v.GetDuration("actual.timeout"),
		},
		OpenAI: OpenAIConfig{
			APIKey:     strings.TrimSpace(v.GetString("openai.api_key")),
			Model:      v.GetString("openai.model"),
			BaseURL:    v.GetString("openai.base_url"),
			ChunkSize:  v.GetInt("openai.chunk_size"),
			Pacing:     v.GetDuration("openai.pacing"),
			MaxRetries: v.GetInt("openai.max_retries"),
			Timeout:    v.GetDuration("openai.timeout"),
		},
		LocalModel: LocalModelConfig{
			Dir:       ExpandPath(v.GetString("local_model.dir")),
			ModelFile: v.GetString("local_model.model_file"),
			Command:   v.GetString("local_model.command"),
			Args:      v.GetStringSlice("local_model.args"),
			Timeout:   v.GetDuration("local_model.timeout"),
		},
		Categorize: CategorizeConfig{
			MinConfidence: v.GetFloat64("categorize.min_confidence"),
			Limit:         v.GetInt("categorize.limit"),
			DryRun:        v.GetBool("categorize.dry_run"),
			CreateRules:   v.GetBool("categorize.create_rules"),
			UseOpenAI:     v.GetBool("categorize.use_openai"),
		},
		History: HistoryConfig{
			Enabled: v.GetBool("history.enabled"),
			Path:    ExpandPath(v.GetString("history.path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
}

// ValidateConnection checks the settings needed to reach the budget server.
func (c *Config) ValidateConnection() error {
	required := []struct {
		key   string
		value string
	}{
		{"actual.server_url", c.Actual.ServerURL},
		{"actual.password", c.Actual.Password},
		{"actual.sync_id", c.Actual.SyncID},
	}
	for _, r := range required {
		if IsPlaceholder(r.value) {
			return common.NewUserError(
				fmt.Sprintf("%s is not set; add it to your config file or .env", r.key),
				fmt.Errorf("%w: %s", common.ErrMissingConfig, r.key))
		}
	}
	return nil
}

// Validate checks everything a categorization run needs. It never touches
// the network.
func (c *Config) Validate() error {
	if err := c.ValidateConnection(); err != nil {
		return err
	}

	if c.Categorize.UseOpenAI && IsPlaceholder(c.OpenAI.APIKey) {
		return common.NewUserError(
			"openai.api_key (or OPENAI_API_KEY) is required when using OpenAI",
			fmt.Errorf("%w: openai.api_key", common.ErrMissingConfig))
	}

	if c.Categorize.MinConfidence < 0 || c.Categorize.MinConfidence > 1 {
		return common.NewUserError(
			fmt.Sprintf("categorize.min_confidence must be between 0 and 1, got %g", c.Categorize.MinConfidence),
			fmt.Errorf("%w: categorize.min_confidence", common.ErrInvalidConfig))
	}

	if c.Categorize.Limit < 0 {
		return common.NewUserError(
			fmt.Sprintf("categorize.limit must not be negative, got %d", c.Categorize.Limit),
			fmt.Errorf("%w: categorize.limit", common.ErrInvalidConfig))
	}

	return nil
}

// IsPlaceholder reports whether a value is empty or an unedited template
// value such as "your-password", "<sync id>" or "changeme".
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == "":
		return true
	case strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "your_"):
		return true
	case strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">"):
		return true
	case v == "changeme" || v == "change-me":
		return true
	default:
		return false
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		path = ExpandPath(path)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
