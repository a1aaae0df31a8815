package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/linecache/cache"
	"github.com/sarchlab/linecache/config"
	"github.com/sarchlab/linecache/device"
	"github.com/sarchlab/linecache/tracing"
)

// settings is the configuration plus the options that only the command line
// has.
type settings struct {
	config.Config

	deviceFile string
	logTasks   bool
	logLines   bool
}

// loadSettings reads the configuration and lets the flags that are set
// override it.
func loadSettings(cmd *cobra.Command) (settings, error) {
	flags := cmd.Flags()

	files, err := flags.GetStringSlice("env")
	if err != nil {
		return settings{}, err
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return settings{}, err
	}

	s := settings{Config: cfg}
	if err := s.applyFlags(flags); err != nil {
		return settings{}, err
	}

	return s, nil
}

func (s *settings) applyFlags(flags *pflag.FlagSet) error {
	var err error

	if flags.Changed("size") {
		s.Size, _ = flags.GetUint64("size")
	}

	if flags.Changed("line-size") {
		s.LineSize, _ = flags.GetUint64("line-size")
	}

	if flags.Changed("num-lines") {
		s.NumLines, _ = flags.GetInt("num-lines")
	}

	if flags.Changed("ways") {
		s.Ways, _ = flags.GetInt("ways")
	}

	if flags.Changed("victim") {
		s.Victim, _ = flags.GetString("victim")
	}

	if flags.Changed("rate") {
		s.DeviceRate, _ = flags.GetInt("rate")
	}

	if flags.Changed("trace-db") {
		s.TraceDB, _ = flags.GetString("trace-db")
	}

	if flags.Changed("policy") {
		name, _ := flags.GetString("policy")

		s.Policy, err = cache.ParseWritePolicy(name)
		if err != nil {
			return fmt.Errorf("--policy %q: %w", name, err)
		}
	}

	s.deviceFile, _ = flags.GetString("device-file")
	s.logTasks, _ = flags.GetBool("log-tasks")
	s.logLines, _ = flags.GetBool("log-lines")

	return nil
}

// openDevice returns the device the settings describe and a function that
// releases it.
func (s settings) openDevice() (device.Device, func() error, error) {
	if s.deviceFile == "" {
		return device.NewStorage(s.Size), func() error { return nil }, nil
	}

	f, err := device.OpenFile(s.deviceFile, s.Size)
	if err != nil {
		return nil, nil, err
	}

	return f, f.Close, nil
}

// buildCache creates the cache over d and attaches the tracers that the
// settings ask for. The cache is closed at exit if the command does not
// close it first.
func (s settings) buildCache(d device.Device) (*cache.Cache, error) {
	c, err := s.Builder().
		WithName("LineCache").
		WithDevice(s.WrapDevice(d)).
		Build()
	if err != nil {
		return nil, err
	}

	if err := s.attachTracers(c); err != nil {
		return nil, err
	}

	atexit.Register(func() { _ = c.Close() })

	return c, nil
}

func (s settings) attachTracers(c *cache.Cache) error {
	if s.TraceDB != "" {
		tracer := tracing.NewSQLiteTracer(s.TraceDB, tracing.AllTasks)
		if err := tracer.Init(); err != nil {
			return fmt.Errorf("trace database: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Trace is collected in %s\n", tracer.FileName())
		tracing.CollectTrace(c, tracer)
	}

	if s.logTasks {
		logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
		tracing.CollectTrace(c, tracing.NewLogTracer(logger, tracing.AllTasks))
	}

	if s.logLines {
		logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
		c.AcceptHook(cache.NewLineLogger(logger))
	}

	return nil
}
