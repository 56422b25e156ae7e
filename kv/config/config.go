package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/eepycrawl/flamekv/pkg/typeutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// Config is shared by every daemon. Each daemon reads the sections it needs.
type Config struct {
	*flag.FlagSet `toml:"-" json:"-"`

	Log log.Config `toml:"log" json:"log"`

	Server  ServerConfig  `toml:"server" json:"server"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Flame   FlameConfig   `toml:"flame" json:"flame"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string `toml:"-" json:"-"`
}

type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `toml:"addr" json:"addr"`
	// Coordinator is the host:port of the coordinator this daemon pings.
	Coordinator string `toml:"coordinator" json:"coordinator"`

	HeartbeatInterval typeutil.Duration `toml:"heartbeat-interval" json:"heartbeat-interval"`
	// WorkerTTL is how long a coordinator keeps a worker that stopped pinging.
	WorkerTTL typeutil.Duration `toml:"worker-ttl" json:"worker-ttl"`

	MaxBodySize typeutil.ByteSize `toml:"max-body-size" json:"max-body-size"`
}

type StorageConfig struct {
	DataDir string `toml:"data-dir" json:"data-dir"`

	// Replicas is how many peers receive a copy of each write. 0 disables replication.
	Replicas               int               `toml:"replicas" json:"replicas"`
	ReplicaRefreshInterval typeutil.Duration `toml:"replica-refresh-interval" json:"replica-refresh-interval"`
	ForwardQueueSize       int               `toml:"forward-queue-size" json:"forward-queue-size"`

	// RowCompression is "none" or "lz4", used for files of persistent tables.
	RowCompression string `toml:"row-compression" json:"row-compression"`
}

type FlameConfig struct {
	// KVSCoordinator is the KVS coordinator Flame jobs and workers read from.
	KVSCoordinator string `toml:"kvs-coordinator" json:"kvs-coordinator"`
}

const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"

	MaxReplicas = 2
)

const (
	defaultHeartbeatInterval      = 5 * time.Second
	defaultWorkerTTL              = 150 * time.Second
	defaultReplicaRefreshInterval = 5 * time.Second
	defaultForwardQueueSize       = 4096
	defaultMaxBodySize            = 256 << 20
	defaultDataDir                = "/tmp/flamekv"
	defaultLogFormat              = "text"
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

// NewConfig creates a config with the flags of the named daemon registered.
func NewConfig(name string, defaultAddr string) *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet(name, flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.StringVar(&cfg.configFile, "config", "", "Config file")
	fs.StringVar(&cfg.Server.Addr, "addr", defaultAddr, "listen address")
	fs.StringVar(&cfg.Server.Coordinator, "coordinator", "", "coordinator address to ping, host:port")
	fs.StringVar(&cfg.Storage.DataDir, "data-dir", "", "path to the data directory")
	fs.IntVar(&cfg.Storage.Replicas, "replicas", 0, "number of replicas each write is forwarded to")
	fs.StringVar(&cfg.Flame.KVSCoordinator, "kvs-coordinator", "", "KVS coordinator address, host:port")

	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")
	return cfg
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
	var meta *toml.MetaData
	if c.configFile != "" {
		meta, err = c.configFromFile(c.configFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	c.Adjust(meta)
	return c.Validate()
}

func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *typeutil.Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// Adjust fills in defaults for everything left unset.
func (c *Config) Adjust(meta *toml.MetaData) {
	if meta != nil {
		for _, key := range meta.Undecoded() {
			c.WarningMsgs = append(c.WarningMsgs, fmt.Sprintf("config contains undefined item: %s", key.String()))
		}
	}
	adjustString(&c.Log.Level, getLogLevel())
	adjustString(&c.Log.Format, defaultLogFormat)
	adjustString(&c.Storage.DataDir, defaultDataDir)
	adjustString(&c.Storage.RowCompression, CompressionNone)
	adjustInt(&c.Storage.ForwardQueueSize, defaultForwardQueueSize)
	adjustDuration(&c.Server.HeartbeatInterval, defaultHeartbeatInterval)
	adjustDuration(&c.Server.WorkerTTL, defaultWorkerTTL)
	adjustDuration(&c.Storage.ReplicaRefreshInterval, defaultReplicaRefreshInterval)
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = defaultMaxBodySize
	}
}

// Validate is used to validate if some configurations are right.
func (c *Config) Validate() error {
	if _, err := ListenPort(c.Server.Addr); err != nil {
		return err
	}
	if c.Storage.Replicas < 0 || c.Storage.Replicas > MaxReplicas {
		return errors.Errorf("replicas must be between 0 and %d, got %d", MaxReplicas, c.Storage.Replicas)
	}
	if c.Server.WorkerTTL.Duration <= c.Server.HeartbeatInterval.Duration {
		return errors.New("worker ttl must be greater than heartbeat interval")
	}
	switch c.Storage.RowCompression {
	case CompressionNone, CompressionLZ4:
	default:
		return errors.Errorf("unknown row compression %q", c.Storage.RowCompression)
	}
	return nil
}

// ListenPort returns the port of a host:port address.
func ListenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return 0, errors.Errorf("invalid port in address %q", addr)
	}
	return port, nil
}

func NewDefaultConfig() *Config {
	c := &Config{
		Server: ServerConfig{
			Addr:        "127.0.0.1:8000",
			Coordinator: "127.0.0.1:8000",
		},
		Flame: FlameConfig{
			KVSCoordinator: "127.0.0.1:8000",
		},
	}
	c.Adjust(nil)
	return c
}

func NewTestConfig() *Config {
	c := &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:0",
			HeartbeatInterval: typeutil.NewDuration(50 * time.Millisecond),
			WorkerTTL:         typeutil.NewDuration(2 * time.Second),
		},
		Storage: StorageConfig{
			ReplicaRefreshInterval: typeutil.NewDuration(50 * time.Millisecond),
		},
	}
	c.Log.Level = getLogLevel()
	c.Adjust(nil)
	return c
}
