// Package config loads the cache and tool settings from the environment.
//
// Settings are read from LINECACHE_* environment variables. Values can also
// be put in .env files, which never override variables that are already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sarchlab/linecache/cache"
	"github.com/sarchlab/linecache/device"
)

// Environment variables that Load reads.
const (
	EnvSize        = "LINECACHE_SIZE"
	EnvLineSize    = "LINECACHE_LINE_SIZE"
	EnvNumLines    = "LINECACHE_NUM_LINES"
	EnvWays        = "LINECACHE_WAYS"
	EnvPolicy      = "LINECACHE_POLICY"
	EnvVictim      = "LINECACHE_VICTIM"
	EnvDeviceRate  = "LINECACHE_DEVICE_RATE"
	EnvMonitorPort = "LINECACHE_MONITOR_PORT"
	EnvTraceDB     = "LINECACHE_TRACE_DB"
)

// Config holds the settings of a cache and the tools around it.
type Config struct {
	Size        uint64
	LineSize    uint64
	NumLines    int
	Ways        int
	Policy      cache.WritePolicy
	Victim      string
	DeviceRate  int
	MonitorPort int
	TraceDB     string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Size:     16 * 1024 * 1024,
		LineSize: 64,
		NumLines: 4096,
		Ways:     cache.DefaultWayAssociativity,
		Policy:   cache.WriteBack,
		Victim:   "lru",
	}
}

// Load reads the given .env files and then the environment. Without files,
// it reads ./.env if the file exists.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("loading %v: %w", files, err)
	}

	return FromEnv()
}

// FromEnv overrides the default settings with the environment variables that
// are set.
func FromEnv() (Config, error) {
	c := Default()

	if err := lookupUint(EnvSize, &c.Size); err != nil {
		return Config{}, err
	}

	if err := lookupUint(EnvLineSize, &c.LineSize); err != nil {
		return Config{}, err
	}

	if err := lookupInt(EnvNumLines, &c.NumLines); err != nil {
		return Config{}, err
	}

	if err := lookupInt(EnvWays, &c.Ways); err != nil {
		return Config{}, err
	}

	if err := lookupInt(EnvDeviceRate, &c.DeviceRate); err != nil {
		return Config{}, err
	}

	if err := lookupInt(EnvMonitorPort, &c.MonitorPort); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv(EnvPolicy); ok {
		p, err := cache.ParseWritePolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s=%q: %w", EnvPolicy, v, err)
		}

		c.Policy = p
	}

	if v, ok := os.LookupEnv(EnvVictim); ok {
		c.Victim = v
	}

	if v, ok := os.LookupEnv(EnvTraceDB); ok {
		c.TraceDB = v
	}

	return c, nil
}

func lookupUint(name string, dst *uint64) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}

	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", name, v, err)
	}

	*dst = n

	return nil
}

func lookupInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}

	n, err := strconv.ParseInt(v, 0, 0)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", name, v, err)
	}

	*dst = int(n)

	return nil
}

// Builder returns a cache builder with the geometry and the replacement
// policy of the config.
func (c Config) Builder() cache.Builder {
	return cache.MakeBuilder().
		WithSize(c.Size).
		WithLineSize(c.LineSize).
		WithNumLines(c.NumLines).
		WithWayAssociativity(c.Ways).
		WithReplaceStrategy(c.Victim)
}

// WrapDevice applies the device rate limit of the config, if any.
func (c Config) WrapDevice(d device.Device) device.Device {
	if c.DeviceRate <= 0 {
		return d
	}

	return device.NewThrottled(d, c.DeviceRate, int(c.LineSize))
}
