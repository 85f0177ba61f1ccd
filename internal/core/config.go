package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the server.
type Config struct {
	// Identifier for this server instance, used in log lines.
	Name string `mapstructure:"name"`
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent sessions the server will allow.
	MaxSession int `mapstructure:"max_session"`
	// Interval in milliseconds between session update sweeps.
	SessionUpdateInterval int `mapstructure:"session_update_interval"`
	// Milliseconds without any traffic after which a session is closed.
	AliveTimeout int `mapstructure:"alive_timeout"`

	TCPServer struct {
		// Port on which the server will accept client connections.
		Port int `mapstructure:"port"`
	} `mapstructure:"tcp_server"`

	UDPServer struct {
		// Whether the UDP relay/rendezvous plane is served at all.
		Enabled bool `mapstructure:"enabled"`
		// Address to which the UDP socket is bound. Blank uses Hostname.
		Address string `mapstructure:"address"`
		// Port to which the UDP socket is bound.
		Port int `mapstructure:"port"`
		// Set SO_REUSEADDR on the UDP socket before binding.
		ReuseAddress bool `mapstructure:"reuse_address"`
	} `mapstructure:"udp_server"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Web struct {
		// HTTP endpoint port for the metrics (and optionally pprof) handlers.
		// Zero disables the HTTP server entirely.
		HTTPPort int `mapstructure:"http_port"`
	} `mapstructure:"web"`

	Debugging struct {
		// Serve pprof endpoints on the web port.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Log a line for every packet that passes through the preprocessors.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "EUNET"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("error reading config file: %v\n", err)
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, udp_server.port can be set using: EUNET_UDP_SERVER_PORT
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s\n", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v\n", err)
		os.Exit(1)
	}
	return config
}

func setDefaults() {
	viper.SetDefault("name", "eunet")
	viper.SetDefault("hostname", "0.0.0.0")
	viper.SetDefault("max_session", 1000)
	viper.SetDefault("session_update_interval", 30)
	viper.SetDefault("alive_timeout", 30000)
	viper.SetDefault("logging.log_level", "info")
}

// TCPAddress returns the listen address for the TCP listener.
func (c *Config) TCPAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.TCPServer.Port)
}

// UDPAddress returns the bind address for the UDP endpoint.
func (c *Config) UDPAddress() string {
	addr := c.UDPServer.Address
	if addr == "" {
		addr = c.Hostname
	}
	return fmt.Sprintf("%s:%d", addr, c.UDPServer.Port)
}

// UpdateInterval returns the session update interval as a duration. Zero
// means "tick as fast as possible" and is returned as-is.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.SessionUpdateInterval) * time.Millisecond
}

// UpdateIntervalAdvisories returns warnings about questionable values of
// session_update_interval. They are advisory only and never enforced.
func (c *Config) UpdateIntervalAdvisories() []string {
	var advisories []string
	if c.UDPServer.Enabled {
		if c.SessionUpdateInterval > 100 {
			advisories = append(advisories, fmt.Sprintf(
				"session_update_interval %dms is too slow for the UDP plane; retransmit latency will suffer (want <= 30ms)",
				c.SessionUpdateInterval))
		} else if c.SessionUpdateInterval > 30 {
			advisories = append(advisories, fmt.Sprintf(
				"session_update_interval %dms is above the recommended 30ms for UDP service",
				c.SessionUpdateInterval))
		}
	} else if c.SessionUpdateInterval > 0 && c.SessionUpdateInterval < 1000 {
		advisories = append(advisories, fmt.Sprintf(
			"session_update_interval %dms is unnecessarily fast for a TCP-only server (>= 1000ms is plenty)",
			c.SessionUpdateInterval))
	}
	return advisories
}

// Validate returns an error describing the first nonsensical config value.
func (c *Config) Validate() error {
	if c.MaxSession <= 0 {
		return fmt.Errorf("max_session must be positive, got %d", c.MaxSession)
	}
	// Session ids are 16-bit with 0 reserved for the server.
	if c.MaxSession > 65535 {
		return fmt.Errorf("max_session exceeds the session id space: %d", c.MaxSession)
	}
	// Port 0 binds an ephemeral port, which is how the tests run.
	if c.TCPServer.Port < 0 || c.TCPServer.Port > 65535 {
		return fmt.Errorf("tcp_server.port out of range: %d", c.TCPServer.Port)
	}
	if c.UDPServer.Enabled && (c.UDPServer.Port < 0 || c.UDPServer.Port > 65535) {
		return fmt.Errorf("udp_server.port out of range: %d", c.UDPServer.Port)
	}
	if c.SessionUpdateInterval < 0 {
		return fmt.Errorf("session_update_interval must not be negative, got %d", c.SessionUpdateInterval)
	}
	return nil
}
