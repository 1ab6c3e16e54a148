package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// IntakeConfig holds the workflow surface: platform identifiers, timeouts and
// the durable-write retry policy. All identifiers are required at startup.
type IntakeConfig struct {
	StartChannelID     string `mapstructure:"start_channel_id"`
	ReviewChannelID    string `mapstructure:"review_channel_id"`
	ApprovedChannelID  string `mapstructure:"approved_channel_id"`
	RejectedChannelID  string `mapstructure:"rejected_channel_id"`
	ProvisionChannelID string `mapstructure:"provision_channel_id"`
	StaffRoleID        string `mapstructure:"staff_role_id"`
	ApprovedRoleID     string `mapstructure:"approved_role_id"`

	AnswerTimeout   int `mapstructure:"answer_timeout"`   // milliseconds
	ReasonTimeout   int `mapstructure:"reason_timeout"`   // milliseconds
	TeardownGrace   int `mapstructure:"teardown_grace"`   // milliseconds
	RetryAttempts   int `mapstructure:"retry_attempts"`   // durable-write attempts
	RetryDelay      int `mapstructure:"retry_delay"`      // milliseconds between attempts
	SessionGuardTTL int `mapstructure:"session_guard_ttl"` // milliseconds
	DecisionLockTTL int `mapstructure:"decision_lock_ttl"` // milliseconds

	QuestionsPath string `mapstructure:"questions_path"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ElasticsearchConfig configures the optional audit trail sink. Audit
// indexing is disabled when no address is set.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

// AlertsConfig configures the optional SNS operator alert channel used when
// durable writes exhaust their retries.
type AlertsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
