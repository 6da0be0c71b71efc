package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"sos-relay/internal/common/config"

	"gopkg.in/yaml.v3"
)

// Config sos-relay service configuration
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	HTTP struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	// Storage.Driver is "postgres" or "memory"
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`

	Ledger struct {
		RPCURL          string `yaml:"rpc_url"`
		ContractAddress string `yaml:"contract_address"`
		FromAddress     string `yaml:"from_address"`
		// PrivateKey signs locally; required for public RPC endpoints
		PrivateKey     string        `yaml:"private_key"`
		ChainID        uint64        `yaml:"chain_id"`
		APIKey         string        `yaml:"api_key"`
		GasLimit       uint64        `yaml:"gas_limit"`
		ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"ledger"`

	SMS struct {
		BaseURL    string        `yaml:"base_url"`
		AccountSID string        `yaml:"account_sid"`
		AuthToken  string        `yaml:"auth_token"`
		FromNumber string        `yaml:"from_number"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"sms"`

	Offline struct {
		QueuePath     string        `yaml:"queue_path"`
		DrainInterval time.Duration `yaml:"drain_interval"`
		DrainBatch    int           `yaml:"drain_batch"`
	} `yaml:"offline"`

	// Satellite.Mode is "http" or "mqtt"
	Satellite struct {
		Mode      string        `yaml:"mode"`
		RelayURL  string        `yaml:"relay_url"`
		MQTTTopic string        `yaml:"mqtt_topic"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"satellite"`

	Dispatch struct {
		LedgerWorkers  int           `yaml:"ledger_workers"`
		Workers        int           `yaml:"workers"`
		LedgerTimeout  time.Duration `yaml:"ledger_timeout"`
		DefaultTimeout time.Duration `yaml:"default_timeout"`
	} `yaml:"dispatch"`

	Query struct {
		// CacheTTL 0 disables the listing cache
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"query"`

	Reconcile struct {
		Enabled  bool   `yaml:"enabled"`
		Stream   string `yaml:"stream"`
		Group    string `yaml:"group"`
		Consumer string `yaml:"consumer"`
	} `yaml:"reconcile"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Encryption struct {
		Key string `yaml:"key"`
	} `yaml:"encryption"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in defaults.
func Default() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "sos"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 25
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "sos-relay"
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = ":5000"
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.WriteTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Storage.Driver = "postgres"

	cfg.Ledger.ConfirmTimeout = 60 * time.Second
	cfg.Ledger.PollInterval = 2 * time.Second
	cfg.Ledger.RequestTimeout = 15 * time.Second
	cfg.Ledger.GasLimit = 500000

	cfg.SMS.Timeout = 15 * time.Second

	cfg.Offline.QueuePath = "offline_sos.db"
	cfg.Offline.DrainInterval = 30 * time.Second
	cfg.Offline.DrainBatch = 50

	cfg.Satellite.Mode = "http"
	cfg.Satellite.MQTTTopic = "sos/satellite/uplink"
	cfg.Satellite.Timeout = 10 * time.Second

	cfg.Dispatch.LedgerWorkers = 16
	cfg.Dispatch.Workers = 32
	cfg.Dispatch.LedgerTimeout = 90 * time.Second
	cfg.Dispatch.DefaultTimeout = 30 * time.Second

	cfg.Query.CacheTTL = time.Second

	cfg.Reconcile.Enabled = true
	cfg.Reconcile.Stream = "sos:reconcile"
	cfg.Reconcile.Group = "sos-relay"
	cfg.Reconcile.Consumer = hostname()

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load builds the configuration: defaults, then the YAML file named by
// SOS_CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SOS_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database.LoadFromEnv("DB")
	c.Redis.LoadFromEnv("REDIS")
	c.MQTT.LoadFromEnv("MQTT")

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
	c.HTTP.ReadTimeout = parseDuration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = parseDuration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.ShutdownTimeout = parseDuration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)

	c.Ledger.RPCURL = getEnv("LEDGER_RPC_URL", c.Ledger.RPCURL)
	c.Ledger.ContractAddress = getEnv("LEDGER_CONTRACT_ADDRESS", c.Ledger.ContractAddress)
	c.Ledger.FromAddress = getEnv("LEDGER_FROM_ADDRESS", c.Ledger.FromAddress)
	c.Ledger.PrivateKey = getEnv("LEDGER_PRIVATE_KEY", c.Ledger.PrivateKey)
	c.Ledger.ChainID = uint64(parseInt("LEDGER_CHAIN_ID", int(c.Ledger.ChainID)))
	c.Ledger.APIKey = getEnv("LEDGER_API_KEY", c.Ledger.APIKey)
	c.Ledger.GasLimit = uint64(parseInt("LEDGER_GAS_LIMIT", int(c.Ledger.GasLimit)))
	c.Ledger.ConfirmTimeout = parseDuration("LEDGER_CONFIRM_TIMEOUT", c.Ledger.ConfirmTimeout)
	c.Ledger.PollInterval = parseDuration("LEDGER_POLL_INTERVAL", c.Ledger.PollInterval)
	c.Ledger.RequestTimeout = parseDuration("LEDGER_REQUEST_TIMEOUT", c.Ledger.RequestTimeout)

	c.SMS.BaseURL = getEnv("TWILIO_BASE_URL", c.SMS.BaseURL)
	c.SMS.AccountSID = getEnv("TWILIO_ACCOUNT_SID", c.SMS.AccountSID)
	c.SMS.AuthToken = getEnv("TWILIO_AUTH_TOKEN", c.SMS.AuthToken)
	c.SMS.FromNumber = getEnv("TWILIO_PHONE_NUMBER", c.SMS.FromNumber)
	c.SMS.Timeout = parseDuration("TWILIO_TIMEOUT", c.SMS.Timeout)

	c.Offline.QueuePath = getEnv("OFFLINE_QUEUE_PATH", c.Offline.QueuePath)
	c.Offline.DrainInterval = parseDuration("OFFLINE_DRAIN_INTERVAL", c.Offline.DrainInterval)
	c.Offline.DrainBatch = parseInt("OFFLINE_DRAIN_BATCH", c.Offline.DrainBatch)

	c.Satellite.Mode = getEnv("SATELLITE_MODE", c.Satellite.Mode)
	c.Satellite.RelayURL = getEnv("SATELLITE_RELAY_URL", c.Satellite.RelayURL)
	c.Satellite.MQTTTopic = getEnv("SATELLITE_MQTT_TOPIC", c.Satellite.MQTTTopic)
	c.Satellite.Timeout = parseDuration("SATELLITE_TIMEOUT", c.Satellite.Timeout)

	c.Dispatch.LedgerWorkers = parseInt("DISPATCH_LEDGER_WORKERS", c.Dispatch.LedgerWorkers)
	c.Dispatch.Workers = parseInt("DISPATCH_WORKERS", c.Dispatch.Workers)
	c.Dispatch.LedgerTimeout = parseDuration("DISPATCH_LEDGER_TIMEOUT", c.Dispatch.LedgerTimeout)
	c.Dispatch.DefaultTimeout = parseDuration("DISPATCH_TIMEOUT", c.Dispatch.DefaultTimeout)

	c.Query.CacheTTL = parseDuration("QUERY_CACHE_TTL", c.Query.CacheTTL)

	c.Reconcile.Enabled = parseBool("RECONCILE_ENABLED", c.Reconcile.Enabled)
	c.Reconcile.Stream = getEnv("RECONCILE_STREAM", c.Reconcile.Stream)
	c.Reconcile.Group = getEnv("RECONCILE_GROUP", c.Reconcile.Group)
	c.Reconcile.Consumer = getEnv("RECONCILE_CONSUMER", c.Reconcile.Consumer)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)

	c.Encryption.Key = getEnv("SOS_ENCRYPTION_KEY", c.Encryption.Key)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate rejects settings the service cannot start with. Missing channel
// credentials are not errors; see UnconfiguredChannels.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q (want postgres or memory)", c.Storage.Driver)
	}
	switch c.Satellite.Mode {
	case "http", "mqtt":
	default:
		return fmt.Errorf("invalid SATELLITE_MODE %q (want http or mqtt)", c.Satellite.Mode)
	}
	if c.Dispatch.LedgerWorkers <= 0 || c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch worker budgets must be positive (ledger=%d, others=%d)",
			c.Dispatch.LedgerWorkers, c.Dispatch.Workers)
	}
	if c.Dispatch.LedgerTimeout <= c.Ledger.ConfirmTimeout {
		return fmt.Errorf("DISPATCH_LEDGER_TIMEOUT (%s) must exceed LEDGER_CONFIRM_TIMEOUT (%s)",
			c.Dispatch.LedgerTimeout, c.Ledger.ConfirmTimeout)
	}
	if c.Query.CacheTTL < 0 {
		return fmt.Errorf("QUERY_CACHE_TTL must not be negative")
	}
	return nil
}

// UnconfiguredChannels lists channels missing credentials or endpoints. They stay
// registered and report Unconfigured per call.
func (c *Config) UnconfiguredChannels() map[string]string {
	out := map[string]string{}
	if c.Ledger.RPCURL == "" || c.Ledger.ContractAddress == "" || (c.Ledger.FromAddress == "" && c.Ledger.PrivateKey == "") {
		out["ledger"] = "LEDGER_RPC_URL, LEDGER_CONTRACT_ADDRESS and one of LEDGER_PRIVATE_KEY or LEDGER_FROM_ADDRESS are required"
	}
	if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.FromNumber == "" {
		out["sms"] = "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required"
	}
	if c.Offline.QueuePath == "" {
		out["offline"] = "OFFLINE_QUEUE_PATH is required"
	}
	switch c.Satellite.Mode {
	case "http":
		if c.Satellite.RelayURL == "" {
			out["satellite"] = "SATELLITE_RELAY_URL is required"
		}
	case "mqtt":
		if c.MQTT.Broker == "" || c.Satellite.MQTTTopic == "" {
			out["satellite"] = "MQTT_BROKER and SATELLITE_MQTT_TOPIC are required"
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// parseDuration accepts Go durations ("90s") or plain seconds ("90").
func parseDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "sos-relay"
	}
	return h
}
