package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	CommCare CommCareConfig `yaml:"commcare"`
	Workers  WorkersConfig  `yaml:"workers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	Charset            string        `yaml:"charset"`
	ParseTime          bool          `yaml:"parse_time"`
	Loc                string        `yaml:"loc"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
}

type RedisConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	ImportQueue string `yaml:"import_queue"`
	DLQSuffix   string `yaml:"dlq_suffix"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CommCareConfig holds everything needed to talk to a CommCare project:
// credentials, case types, bulk upload tuning, and lookup backoff tuning.
type CommCareConfig struct {
	BaseURL         string        `yaml:"base_url"`
	ProjectSlug     string        `yaml:"project_slug"`
	Username        string        `yaml:"username"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	ContactCaseType string        `yaml:"contact_case_type"`
	PatientCaseType string        `yaml:"patient_case_type"`
	Upload          UploadConfig  `yaml:"upload"`
	Lookup          LookupConfig  `yaml:"lookup"`
}

type UploadConfig struct {
	MaxRecordsPerParent int           `yaml:"max_records_per_parent"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	CreateNewCases      string        `yaml:"create_new_cases"`
}

type LookupConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxTotalWait time.Duration `yaml:"max_total_wait"`
}

type WorkersConfig struct {
	Import ImportWorkerConfig `yaml:"import"`
}

type ImportWorkerConfig struct {
	Count int `yaml:"count"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load() (*Config, error) {
	// .env is optional; it carries credentials that should not live in the
	// yaml file checked into source control.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if v := os.Getenv("COMMCARE_USERNAME"); v != "" {
		config.CommCare.Username = v
	}
	if v := os.Getenv("COMMCARE_API_KEY"); v != "" {
		config.CommCare.APIKey = v
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.CommCare.Upload.MaxRecordsPerParent <= 0 {
		c.CommCare.Upload.MaxRecordsPerParent = 100
	}
	if c.CommCare.Upload.PollInterval <= 0 {
		c.CommCare.Upload.PollInterval = 2 * time.Second
	}
	if c.CommCare.Upload.CreateNewCases == "" {
		c.CommCare.Upload.CreateNewCases = "on"
	}
	if c.CommCare.ContactCaseType == "" {
		c.CommCare.ContactCaseType = "contact"
	}
	if c.CommCare.PatientCaseType == "" {
		c.CommCare.PatientCaseType = "patient"
	}
	if c.CommCare.Lookup.InitialDelay <= 0 {
		c.CommCare.Lookup.InitialDelay = time.Second
	}
	if c.CommCare.Lookup.Multiplier <= 1 {
		c.CommCare.Lookup.Multiplier = 2
	}
	if c.CommCare.Lookup.MaxTotalWait <= 0 {
		c.CommCare.Lookup.MaxTotalWait = 512 * time.Second
	}
	if c.CommCare.Timeout <= 0 {
		c.CommCare.Timeout = 30 * time.Second
	}
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.ParseTime, c.Database.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
