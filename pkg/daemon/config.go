package daemon

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/machinehealth/cci/pkg/api"
	"github.com/machinehealth/cci/pkg/history"
	"github.com/machinehealth/cci/pkg/ingest"
)

// Config holds the daemon's environment-driven configuration. Every field
// has a CCI_-prefixed variable so a unit file or container spec can set it
// without a config file.
type Config struct {
	LogLevel   string `env:"CCI_LOG_LEVEL" envDefault:"info"`
	AssetClass string `env:"CCI_ASSET_CLASS" envDefault:"default"`
	PIDFile    string `env:"CCI_PID_FILE" envDefault:"/var/run/ccid.pid"`

	// ProfilePath points at a JSON profile artifact. When empty the
	// profile is loaded from the profile store instead.
	ProfilePath      string `env:"CCI_PROFILE_PATH"`
	ProfileStorePath string `env:"CCI_PROFILE_STORE" envDefault:"/var/lib/cci/profiles.db"`

	ArchivePath          string        `env:"CCI_ARCHIVE_PATH" envDefault:"/var/lib/cci/scores.db"`
	ArchiveRetentionDays int           `env:"CCI_ARCHIVE_RETENTION_DAYS" envDefault:"90"`
	RecentCapacity       int           `env:"CCI_RECENT_CAPACITY" envDefault:"2048"`
	RecentRetention      time.Duration `env:"CCI_RECENT_RETENTION" envDefault:"168h"`

	APIListen  string `env:"CCI_API_LISTEN" envDefault:":9085"`
	APIEnabled bool   `env:"CCI_API_ENABLED" envDefault:"true"`

	MQTTEnabled     bool   `env:"CCI_MQTT_ENABLED" envDefault:"false"`
	MQTTBroker      string `env:"CCI_MQTT_BROKER" envDefault:"localhost"`
	MQTTPort        int    `env:"CCI_MQTT_PORT" envDefault:"1883"`
	MQTTUsername    string `env:"CCI_MQTT_USERNAME"`
	MQTTPassword    string `env:"CCI_MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"CCI_MQTT_TOPIC_PREFIX" envDefault:"cci"`

	KafkaEnabled bool     `env:"CCI_KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"CCI_KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"CCI_KAFKA_TOPIC" envDefault:"sensor-readings"`
	KafkaGroupID string   `env:"CCI_KAFKA_GROUP_ID" envDefault:"ccid"`
}

// LoadConfig reads the daemon configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// MQTTConfig derives the MQTT adapter configuration.
func (c *Config) MQTTConfig() *ingest.MQTTConfig {
	mc := ingest.DefaultMQTTConfig()
	mc.Enabled = c.MQTTEnabled
	mc.Broker = c.MQTTBroker
	mc.Port = c.MQTTPort
	mc.Username = c.MQTTUsername
	mc.Password = c.MQTTPassword
	mc.TopicPrefix = c.MQTTTopicPrefix
	return mc
}

// KafkaConfig derives the Kafka consumer configuration.
func (c *Config) KafkaConfig() *ingest.KafkaConfig {
	kc := ingest.DefaultKafkaConfig()
	kc.Enabled = c.KafkaEnabled
	kc.Brokers = c.KafkaBrokers
	kc.Topic = c.KafkaTopic
	kc.GroupID = c.KafkaGroupID
	return kc
}

// APIConfig derives the HTTP server configuration.
func (c *Config) APIConfig() *api.Config {
	ac := api.DefaultConfig()
	ac.Enabled = c.APIEnabled
	ac.Listen = c.APIListen
	return ac
}

// ArchiveConfig derives the score-archive configuration.
func (c *Config) ArchiveConfig() *history.ArchiveConfig {
	hc := history.DefaultArchiveConfig()
	hc.DatabasePath = c.ArchivePath
	hc.RetentionDays = c.ArchiveRetentionDays
	return hc
}
