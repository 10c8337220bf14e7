// internal/common/config/config.go
package config

import (
	"fmt"

	"loan-lifecycle/internal/models"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig                `mapstructure:"app"`
	Camunda       CamundaConfig            `mapstructure:"camunda"`
	Database      DatabaseConfig           `mapstructure:"database"`
	Workers       map[string]WorkerConfig  `mapstructure:"workers"`
	Reconciler    ReconcilerConfig         `mapstructure:"reconciler"`
	Products      map[string]ProductConfig `mapstructure:"products"`
	Notifications NotificationConfig       `mapstructure:"notifications"`
	HTTP          HTTPConfig               `mapstructure:"http"`
	Logging       LoggingConfig            `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
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

// ElasticsearchConfig configures the optional transition audit index.
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every Zeebe worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
}

// ReconcilerConfig tunes the ingestion pool and the transition applier.
type ReconcilerConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueSize        int `mapstructure:"queue_size"`
	Timeout          int `mapstructure:"timeout"`            // milliseconds, per reconcile call
	StageCooldown    int `mapstructure:"stage_cooldown"`     // seconds
	ZeroDocsCooldown int `mapstructure:"zero_docs_cooldown"` // seconds
}

// ProductConfig lists the document types a product requires before review.
type ProductConfig struct {
	RequiredDocuments []string `mapstructure:"required_documents"`
}

// NotificationConfig holds settings for the notification collaborator.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Templates map[string]models.NotificationTemplate `mapstructure:"templates"`
	Timeout   int                                    `mapstructure:"timeout"` // milliseconds
}

type HTTPConfig struct {
	Address     string            `mapstructure:"address"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// DiagnosticsConfig names the opt-in flag that turns on provenance tagging.
type DiagnosticsConfig struct {
	QueryParam string `mapstructure:"query_param"`
	Header     string `mapstructure:"header"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
