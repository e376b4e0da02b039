package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vulnharvest/internal/config"
	logpkg "github.com/kailas-cloud/vulnharvest/internal/logger"
)

func main() {
	a := newApp()
	if err := run(a, newRoot(a)); err != nil {
		os.Exit(1)
	}
}

// run executes root and releases whatever the command opened, including on error.
func run(a *app, root *cobra.Command) error {
	defer a.close()
	return root.Execute()
}

// app is the state shared by every subcommand once config and logging are up.
type app struct {
	v       *viper.Viper
	env     string
	cfg     config.Config
	logger  *zap.Logger
	closers []io.Closer
}

func newApp() *app {
	return &app{v: viper.New(), logger: zap.NewNop()}
}

func newRootCmd() *cobra.Command {
	return newRoot(newApp())
}

func newRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "vulnharvest",
		Short:         "Aggregate vulnerability intelligence from public sources",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.String("env", "", "config environment (local, dev, docker, prod); defaults to $ENV or local")
	flags.String("log-level", "", "override log level: debug, info, warn, error")
	_ = a.v.BindPFlag("env", flags.Lookup("env"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))

	a.v.SetEnvPrefix("VULNHARVEST")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(newServeCmd(a), newSearchCmd(a), newVersionCmd())
	return root
}

// init loads the environment config and builds the logger.
func (a *app) init() error {
	a.env = a.v.GetString("env")
	if a.env == "" {
		a.env = config.GetEnv()
	}

	cfg, err := config.Load(a.env)
	if err != nil {
		return err
	}
	if lvl := a.v.GetString("log_level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	a.cfg = cfg

	logger, err := logpkg.NewLogger(a.env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, closer := logpkg.WithFile(logger, logpkg.FileSink{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	a.logger = logger
	a.closers = append(a.closers, closer)
	return nil
}

func (a *app) close() {
	_ = a.logger.Sync()
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}
