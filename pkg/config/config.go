package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cuemby/remotebackend/pkg/records"
	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddr is where PowerDNS's remote backend connects over TCP
	DefaultListenAddr = "127.0.0.1:5300"

	// DefaultAPIVersion is the record source path version
	DefaultAPIVersion = 1
)

// Config holds everything the serve command needs
type Config struct {
	// Record source
	RestServerHostname   string `yaml:"rest_server_hostname"`
	RestServerPort       int    `yaml:"rest_server_port"`
	RestUsername         string `yaml:"rest_username"`
	RestPassword         string `yaml:"rest_password"`
	RestFetchTimeoutMS   int64  `yaml:"rest_fetch_timeout"`
	RestQPS              int    `yaml:"rest_qps"`
	APIVersion           int    `yaml:"api_version"`
	MaxRestClientThreads int    `yaml:"max_rest_client_threads"`
	MaxRestQueue         int    `yaml:"max_rest_queue"`

	// DNS server side
	ListenAddr             string `yaml:"listen_addr"`
	UnixSocketPath         string `yaml:"unix_socket_path"`
	UnixSocketTimeoutMS    int64  `yaml:"unix_socket_timeout"`
	MaxPowerDNSConnections int    `yaml:"max_powerdns_connection_count"`
	SOAContent             string `yaml:"soa_content"`

	// Cache
	MaxItemsInCache     int   `yaml:"max_items_in_cache"`
	CacheTimeoutSeconds int64 `yaml:"cache_timeout"`

	// Ambient
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
}

// Default returns a Config with the stock settings
func Default() *Config {
	return &Config{
		RestServerHostname:     "localhost",
		RestServerPort:         8080,
		RestUsername:           "foo",
		RestPassword:           "bar",
		RestFetchTimeoutMS:     1000,
		APIVersion:             DefaultAPIVersion,
		MaxRestClientThreads:   40,
		ListenAddr:             DefaultListenAddr,
		UnixSocketTimeoutMS:    5000,
		MaxPowerDNSConnections: 50 * runtime.NumCPU(),
		SOAContent:             records.DefaultSOAContent,
		MaxItemsInCache:        10000,
		CacheTimeoutSeconds:    300,
		LogLevel:               "info",
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings and fills derived defaults
func (c *Config) Validate() error {
	var errs []error

	if c.RestServerHostname == "" {
		errs = append(errs, errors.New("rest_server_hostname is required"))
	}
	if c.RestServerPort <= 0 || c.RestServerPort > 65535 {
		errs = append(errs, fmt.Errorf("rest_server_port %d is out of range", c.RestServerPort))
	}
	if c.RestUsername == "" || c.RestPassword == "" {
		errs = append(errs, errors.New("rest_username and rest_password are required"))
	}
	if c.RestFetchTimeoutMS <= 0 {
		errs = append(errs, errors.New("rest_fetch_timeout must be positive"))
	}
	if c.RestQPS < 0 {
		errs = append(errs, errors.New("rest_qps cannot be negative"))
	}
	if c.APIVersion <= 0 {
		errs = append(errs, errors.New("api_version must be positive"))
	}
	if c.MaxRestClientThreads <= 0 {
		errs = append(errs, errors.New("max_rest_client_threads must be positive"))
	}
	if c.MaxRestQueue < 0 {
		errs = append(errs, errors.New("max_rest_queue cannot be negative"))
	}
	if c.MaxRestQueue == 0 {
		c.MaxRestQueue = 4 * c.MaxRestClientThreads
	}
	if c.ListenAddr == "" && c.UnixSocketPath == "" {
		errs = append(errs, errors.New("at least one of listen_addr or unix_socket_path is required"))
	}
	if c.UnixSocketTimeoutMS < 0 {
		errs = append(errs, errors.New("unix_socket_timeout cannot be negative"))
	}
	if c.MaxPowerDNSConnections <= 0 {
		errs = append(errs, errors.New("max_powerdns_connection_count must be positive"))
	}
	if c.MaxItemsInCache < 0 {
		errs = append(errs, errors.New("max_items_in_cache cannot be negative"))
	}
	if c.CacheTimeoutSeconds < 0 {
		errs = append(errs, errors.New("cache_timeout cannot be negative"))
	}
	if err := validateSOA(c.SOAContent); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateSOA parses the content as SOA rdata so the DNS server never receives garbage
func validateSOA(content string) error {
	if content == "" {
		return errors.New("soa_content is required")
	}
	rr, err := dns.NewRR("example. 3600 IN SOA " + content)
	if err != nil {
		return fmt.Errorf("soa_content is not valid SOA data: %w", err)
	}
	if _, ok := rr.(*dns.SOA); !ok {
		return errors.New("soa_content is not valid SOA data")
	}
	return nil
}

// FetchTimeout is the deadline for one resolution
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.RestFetchTimeoutMS) * time.Millisecond
}

// StalenessWindow is the maximum age of a cached record set
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.CacheTimeoutSeconds) * time.Second
}

// UnixReadTimeout bounds each line read on a unix socket connection.
// Zero disables the deadline.
func (c *Config) UnixReadTimeout() time.Duration {
	return time.Duration(c.UnixSocketTimeoutMS) * time.Millisecond
}

// CacheEnabled reports whether record sets are cached at all
func (c *Config) CacheEnabled() bool {
	return c.MaxItemsInCache > 0
}
