package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like INTAKE_START_CHANNEL_ID
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// overrideEmptyConfig fills identifiers from the flat environment variable
// names the deployment uses, when the yaml config left them empty.
func overrideEmptyConfig(cfg *Config) {
	envOverrides := []struct {
		target *string
		envKey string
	}{
		{&cfg.Intake.StartChannelID, "WL_START_CHANNEL_ID"},
		{&cfg.Intake.ReviewChannelID, "WL_REVIEW_CHANNEL_ID"},
		{&cfg.Intake.ApprovedChannelID, "WL_APPROVED_CHANNEL_ID"},
		{&cfg.Intake.RejectedChannelID, "WL_REJECTED_CHANNEL_ID"},
		{&cfg.Intake.ProvisionChannelID, "RCON_CHANNEL_ID"},
		{&cfg.Intake.StaffRoleID, "STAFF_ROLE_ID"},
		{&cfg.Intake.ApprovedRoleID, "APPROVED_ROLE_ID"},
		{&cfg.Database.Postgres.User, "DB_USER"},
		{&cfg.Database.Postgres.Password, "DB_PASSWORD"},
		{&cfg.Database.Redis.Password, "REDIS_PASSWORD"},
		{&cfg.Alerts.TopicARN, "ALERTS_TOPIC_ARN"},
	}

	for _, o := range envOverrides {
		if *o.target == "" {
			if val := os.Getenv(o.envKey); val != "" {
				*o.target = val
			}
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Workflow timing defaults
	if cfg.Intake.AnswerTimeout == 0 {
		cfg.Intake.AnswerTimeout = 300000
	}
	if cfg.Intake.ReasonTimeout == 0 {
		cfg.Intake.ReasonTimeout = 120000
	}
	if cfg.Intake.TeardownGrace == 0 {
		cfg.Intake.TeardownGrace = 8000
	}
	if cfg.Intake.RetryAttempts == 0 {
		cfg.Intake.RetryAttempts = 3
	}
	if cfg.Intake.RetryDelay == 0 {
		cfg.Intake.RetryDelay = 3000
	}
	if cfg.Intake.SessionGuardTTL == 0 {
		// Slightly above the worst-case session length: N questions at full
		// answer timeout each, plus teardown.
		cfg.Intake.SessionGuardTTL = 7 * cfg.Intake.AnswerTimeout
	}
	if cfg.Intake.DecisionLockTTL == 0 {
		cfg.Intake.DecisionLockTTL = cfg.Intake.ReasonTimeout + 30000
	}
	if cfg.Intake.QuestionsPath == "" {
		cfg.Intake.QuestionsPath = "configs/questions.yaml"
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "intake-audit"
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields. Missing platform
// identifiers fail the process at start, not at first use.
func validateConfig(cfg *Config) error {
	required := []struct {
		value string
		key   string
	}{
		{cfg.Intake.StartChannelID, "intake.start_channel_id"},
		{cfg.Intake.ReviewChannelID, "intake.review_channel_id"},
		{cfg.Intake.ApprovedChannelID, "intake.approved_channel_id"},
		{cfg.Intake.RejectedChannelID, "intake.rejected_channel_id"},
		{cfg.Intake.ProvisionChannelID, "intake.provision_channel_id"},
		{cfg.Intake.StaffRoleID, "intake.staff_role_id"},
		{cfg.Intake.ApprovedRoleID, "intake.approved_role_id"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Alerts.Enabled {
		if cfg.Alerts.Region == "" {
			return fmt.Errorf("alerts.region is required when alerts are enabled")
		}
		if cfg.Alerts.TopicARN == "" {
			return fmt.Errorf("alerts.topic_arn is required when alerts are enabled")
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
