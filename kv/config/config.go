package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

type Config struct {
	LogLevel string `toml:"log-level"`

	DBPath string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.

	// How long a prewritten lock stays live before other clients may recover it. Individual transactions can
	// override it.
	LockTTL Duration `toml:"lock-ttl"`

	// Backoff between re-reads of a row held by a live foreign lock, doubling up to LockWaitMaxBackoff.
	LockWaitBackoff    Duration `toml:"lock-wait-backoff"`
	LockWaitMaxBackoff Duration `toml:"lock-wait-max-backoff"`
	// Number of re-reads before a read gives up on a live lock.
	LockWaitRetries int `toml:"lock-wait-retries"`

	// Interval between background sweeps of the lock column family. Zero disables the sweeper.
	SweepInterval Duration `toml:"sweep-interval"`
	// Maximum number of locks the sweeper resolves per second.
	SweepRate float64 `toml:"sweep-rate"`
	// Maximum number of locks examined per sweep.
	SweepBatch int `toml:"sweep-batch"`

	// Number of committed transactions whose commit timestamp recovery remembers. Zero disables the cache.
	CommitCacheSize int64 `toml:"commit-cache-size"`
}

// Duration is a time.Duration that reads from TOML strings such as "5s" or "200ms".
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a TOML string into a Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

// MarshalText returns the duration as a string such as "5s".
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (c *Config) Validate() error {
	if c.LockTTL.Duration <= 0 {
		return fmt.Errorf("lock-ttl must be greater than 0")
	}
	if c.LockWaitBackoff.Duration <= 0 {
		return fmt.Errorf("lock-wait-backoff must be greater than 0")
	}
	if c.LockWaitMaxBackoff.Duration < c.LockWaitBackoff.Duration {
		return fmt.Errorf("lock-wait-max-backoff must not be less than lock-wait-backoff")
	}
	if c.LockWaitRetries < 0 {
		return fmt.Errorf("lock-wait-retries must not be negative")
	}
	if c.SweepInterval.Duration > 0 && c.SweepRate <= 0 {
		return fmt.Errorf("sweep-rate must be greater than 0 when the sweeper is enabled")
	}
	if c.CommitCacheSize < 0 {
		return fmt.Errorf("commit-cache-size must not be negative")
	}

	totalWait := c.LockWaitMaxBackoff.Duration * time.Duration(c.LockWaitRetries)
	if totalWait < c.LockTTL.Duration {
		log.Warnf("lock wait budget %v is shorter than lock-ttl %v, "+
			"readers may give up on locks before they expire.", totalWait, c.LockTTL.Duration)
	}

	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:           getLogLevel(),
		DBPath:             "/tmp/haeinsa",
		LockTTL:            NewDuration(5 * time.Second),
		LockWaitBackoff:    NewDuration(10 * time.Millisecond),
		LockWaitMaxBackoff: NewDuration(1 * time.Second),
		LockWaitRetries:    10,
		SweepInterval:      NewDuration(30 * time.Second),
		SweepRate:          100,
		SweepBatch:         1024,
		CommitCacheSize:    1 << 16,
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:           getLogLevel(),
		DBPath:             "/tmp/haeinsa-test",
		LockTTL:            NewDuration(3 * time.Second),
		LockWaitBackoff:    NewDuration(time.Millisecond),
		LockWaitMaxBackoff: NewDuration(4 * time.Millisecond),
		LockWaitRetries:    5,
		// Tests drive sweeps by hand.
		SweepInterval: NewDuration(0),
		SweepRate:     1000,
		SweepBatch:    128,
		// Off so every recovery path reads the store.
		CommitCacheSize: 0,
	}
}

// LoadFile reads a TOML file over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("config %s contains undefined items: %v", path, undecoded)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

// SetupLog applies the configured log level.
func (c *Config) SetupLog() {
	log.SetLevelByString(c.LogLevel)
}
