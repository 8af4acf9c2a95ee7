// File: cmd/hioload-http/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/server"
)

// appConfig is the full command configuration: the server section plus
// settings that only matter to this binary.
type appConfig struct {
	Server          server.Config `mapstructure:",squash"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Development     bool          `mapstructure:"development"`
	File            string        `mapstructure:"file"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"network":          "network",
	"addr":             "addr",
	"loops":            "loops",
	"workers":          "workers",
	"queue-capacity":   "queue_capacity",
	"elastic":          "elastic",
	"max-header-bytes": "max_header_bytes",
	"max-body-bytes":   "max_body_bytes",
	"max-pipelined":    "max_pipelined",
	"max-conns":        "max_conns",
	"idle-timeout":     "idle_timeout",
	"poll-timeout":     "poll_timeout",
	"shutdown-timeout": "shutdown_timeout",
	"dev":              "development",
	"file":             "file",
}

func newRootCmd() *cobra.Command { return buildRootCmd(viper.New()) }

func buildRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "hioload-http",
		Short:         "Run the hioload-http demo server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", cfgFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "configuration file (yaml, json or toml)")
	registerFlags(flags)
	if err := bindFlags(v, flags); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("HIOLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

func registerFlags(flags *pflag.FlagSet) {
	d := server.DefaultConfig()
	flags.String("network", d.Network, "listener network: tcp or unix")
	flags.String("addr", d.Addr, "listen address or unix socket path")
	flags.Int("loops", d.Loops, "reactor loops")
	flags.Int("workers", d.Workers, "handler workers")
	flags.Int("queue-capacity", d.QueueCapacity, "handler tasks waiting for a worker before 503")
	flags.Bool("elastic", false, "run one goroutine per request, capped at --workers")
	flags.Int("max-header-bytes", d.MaxHeaderBytes, "request line plus header limit")
	flags.Int64("max-body-bytes", d.MaxBodyBytes, "request body limit")
	flags.Int("max-pipelined", d.MaxPipelined, "in-flight requests per connection")
	flags.Int("max-conns", 0, "connection limit, 0 for none")
	flags.Duration("idle-timeout", d.IdleTimeout, "keep-alive idle timeout")
	flags.Duration("poll-timeout", d.PollTimeout, "long-poll park timeout")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown deadline")
	flags.Bool("dev", false, "development logging")
	flags.String("file", "", "file served at /file")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", flag, err))
		}
	}
	return errors.Join(errs...)
}

// loadConfig decodes flags, environment and config file into appConfig.
func loadConfig(v *viper.Viper) (*appConfig, error) {
	cfg := &appConfig{Server: *server.DefaultConfig(), ShutdownTimeout: 10 * time.Second}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("shutdown_timeout must be positive: %w", api.ErrInvalidArgument)
	}
	return cfg, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cmd *cobra.Command, cfg *appConfig) error {
	log, err := newLogger(cfg.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	cfg.Server.Logger = log

	d := newDemo(log, cfg.File)
	srv, err := server.Start(d, &cfg.Server)
	if err != nil {
		return err
	}
	d.attach(srv)
	log.Info("listening", zap.Stringer("addr", srv.Addr()))

	select {
	case <-cmd.Context().Done():
	case <-srv.Done():
		return errors.New("server stopped unexpectedly")
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	err = srv.GracefulStop(cfg.ShutdownTimeout)
	log.Info("final state", zap.Any("stats", srv.Stats()), zap.Any("debug", srv.DebugState()))
	if errors.Is(err, api.ErrShutdownTimeout) {
		log.Warn("forced shutdown", zap.Error(err))
		return nil
	}
	return err
}
