package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	Name  string       `yaml:"name"`
	Slots []SlotConfig `yaml:"slots"`

	Payload   PayloadConfig   `yaml:"payload"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	IPMI      IPMIConfig      `yaml:"ipmi"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Influx    InfluxConfig    `yaml:"influx"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
}

// SlotConfig describes one payload slot and the sensors that report its state.
type SlotConfig struct {
	Name          string `yaml:"name"`
	Entity        string `yaml:"entity"`
	StateSensor   uint8  `yaml:"state_sensor"`
	HotswapSensor uint8  `yaml:"hotswap_sensor"`
}

// PayloadConfig holds the board-specific sequencing parameters.
type PayloadConfig struct {
	Tick                      time.Duration `yaml:"tick"`
	PowerGoodTimeout          time.Duration `yaml:"power_good_timeout"`
	SetupTimeout              time.Duration `yaml:"setup_timeout"`
	QuiesceTimeout            time.Duration `yaml:"quiesce_timeout"`
	PowerDownTimeout          time.Duration `yaml:"power_down_timeout"`
	DischargeDelay            time.Duration `yaml:"discharge_delay"`
	ResetPulseOnForcedQuiesce bool          `yaml:"reset_pulse_on_forced_quiesce"`
}

// SensorsConfig holds the sensor descriptor table and the sampling period.
type SensorsConfig struct {
	SampleInterval time.Duration      `yaml:"sample_interval"`
	Descriptors    []SensorDescriptor `yaml:"descriptors"`
}

// SensorDescriptor is one entry of the static sensor table.
type SensorDescriptor struct {
	ID             uint8  `yaml:"id"`
	Name           string `yaml:"name"`
	Kind           string `yaml:"kind"` // "discrete" or "threshold"
	Type           uint8  `yaml:"type"`
	ReadingType    uint8  `yaml:"reading_type"`
	Owner          string `yaml:"owner"`
	EventEnable    uint16 `yaml:"event_enable"`
	DeassertEnable uint16 `yaml:"deassert_enable"`

	LowerCritical    uint16 `yaml:"lower_critical"`
	LowerNonCritical uint16 `yaml:"lower_non_critical"`
	UpperNonCritical uint16 `yaml:"upper_non_critical"`
	UpperCritical    uint16 `yaml:"upper_critical"`
}

// IPMIConfig defines the management controller identity and bus channels.
type IPMIConfig struct {
	IPMBAddress    uint8           `yaml:"ipmb_address"`
	DeviceID       uint8           `yaml:"device_id"`
	DeviceRevision uint8           `yaml:"device_revision"`
	FirmwareMajor  uint8           `yaml:"firmware_major"`
	FirmwareMinor  uint8           `yaml:"firmware_minor"`
	ManufacturerID uint32          `yaml:"manufacturer_id"`
	ProductID      uint16          `yaml:"product_id"`
	DeviceGUID     string          `yaml:"device_guid"`
	Channels       []ChannelConfig `yaml:"channels"`
}

// ChannelConfig assigns a privilege level to a bus channel.
type ChannelConfig struct {
	Number    uint8  `yaml:"number"`
	Privilege string `yaml:"privilege"` // "callback", "user", "operator", "admin"
}

// HardwareConfig selects the hardware control port implementation.
type HardwareConfig struct {
	Driver   string        `yaml:"driver"` // "sim" or "remote"
	URL      string        `yaml:"url"`
	PollRate time.Duration `yaml:"poll_rate"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds the sqlite file location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds postgres connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// RedisConfig defines the state cache connection.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// InfluxConfig defines the sensor history sink.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MessagingConfig defines the management-bus transport.
type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	RequestTopic        string        `yaml:"request_topic"`
	ResponseTopic       string        `yaml:"response_topic"`
	EventTopic          string        `yaml:"event_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	NodeID              string        `yaml:"node_id"`

	// Channel is the IPMI channel bus requests are dispatched on; its
	// privilege comes from ipmi.channels.
	Channel uint8 `yaml:"channel"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// Defaults returns a Config with sane defaults for a single-slot AMC carrier.
func Defaults() *Config {
	return &Config{
		Name: "mmc-1",
		Slots: []SlotConfig{
			{Name: "amc", Entity: "payload-0", StateSensor: 1, HotswapSensor: 0},
		},
		Payload: PayloadConfig{
			Tick:             100 * time.Millisecond,
			PowerGoodTimeout: 2 * time.Second,
			SetupTimeout:     30 * time.Second,
			QuiesceTimeout:   30 * time.Second,
			PowerDownTimeout: 5 * time.Second,
			DischargeDelay:   500 * time.Millisecond,
		},
		Sensors: SensorsConfig{
			SampleInterval: time.Second,
			Descriptors: []SensorDescriptor{
				{ID: 0, Name: "HOTSWAP AMC", Kind: "discrete", Type: 0xF2, ReadingType: 0x6F, Owner: "payload-0", EventEnable: 0x001F},
				{ID: 1, Name: "PAYLOAD STATE", Kind: "discrete", Type: 0xC0, ReadingType: 0x6F, Owner: "payload-0", EventEnable: 0x007F},
				{ID: 2, Name: "FPGA TEMP", Kind: "threshold", Type: 0x01, ReadingType: 0x01, Owner: "payload-0", EventEnable: 0x0285, DeassertEnable: 0x0285,
					LowerCritical: 5, LowerNonCritical: 10, UpperNonCritical: 75, UpperCritical: 85},
				{ID: 3, Name: "MMC TEMP", Kind: "threshold", Type: 0x01, ReadingType: 0x01, Owner: "mmc", EventEnable: 0x0285, DeassertEnable: 0x0285,
					LowerCritical: 5, LowerNonCritical: 10, UpperNonCritical: 65, UpperCritical: 75},
			},
		},
		IPMI: IPMIConfig{
			IPMBAddress:    0x72,
			DeviceID:       0x0A,
			DeviceRevision: 0x02,
			FirmwareMajor:  0x05,
			FirmwareMinor:  0x50,
			ManufacturerID: 0x00315A,
			ProductID:      0x0101,
			Channels: []ChannelConfig{
				{Number: 0, Privilege: "admin"},
				{Number: 7, Privilege: "operator"},
			},
		},
		Hardware: HardwareConfig{
			Driver:   "sim",
			URL:      "http://localhost:9090/api",
			PollRate: 200 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "mmcd.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "mmcd",
				User:     "mmcd",
				SSLMode:  "disable",
				MaxConns: 10,
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "mmc",
			Bucket: "sensors",
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8082,
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			RequestTopic:        "mmc/ipmb/request",
			ResponseTopic:       "mmc/ipmb/response",
			EventTopic:          "mmc/events",
			OutboxDrainInterval: 5 * time.Second,
			HeartbeatInterval:   60 * time.Second,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// NodeID returns the configured node ID, or falls back to the controller name.
func (c *Config) NodeID() string {
	if c.Messaging.NodeID != "" {
		return c.Messaging.NodeID
	}
	return c.Name
}

// KafkaGroupID returns the consumer group, unique per controller so each gets all requests.
func (c *Config) KafkaGroupID() string {
	if c.Messaging.Kafka.GroupID != "" {
		return c.Messaging.Kafka.GroupID
	}
	return "mmcd-" + c.NodeID()
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
