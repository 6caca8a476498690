package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"EnigmaNetz/Enigma-Tshark/config"
	"EnigmaNetz/Enigma-Tshark/internal/capture"
	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/capture/tshark"
	"EnigmaNetz/Enigma-Tshark/internal/catalog"
	"EnigmaNetz/Enigma-Tshark/internal/logger"
)

// Tool is everything the CLI asks of tshark.
type Tool interface {
	capture.Tool
	Statistics(ctx context.Context, path string) (common.Statistics, error)
	ReadFile(ctx context.Context, path string) (string, error)
	ApplyDisplayFilter(ctx context.Context, path, displayFilter string) (string, error)
	Version(ctx context.Context) (string, error)
}

// Catalog is the session and statistics store.
type Catalog interface {
	RecordSession(result common.CaptureResult) error
	RecordStatistics(path string, stats common.Statistics) error
	ListSessions(limit int) ([]catalog.SessionRecord, error)
	ListStatistics(limit int) ([]catalog.StatisticsRecord, error)
	Close() error
}

// DependencyProvider allows injection for testability
// (in production, use real implementations)
type DependencyProvider struct {
	Tool    Tool
	Catalog Catalog
	Logger  *logger.Logger
}

// app is the state shared by the commands of one invocation.
type app struct {
	provider   *DependencyProvider
	configPath string
	envFile    string

	cfg *config.Config
	log *logger.Logger
}

// setup loads configuration and fills in the dependencies that were not injected.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = a.provider.Logger
	if a.log == nil {
		if err := cfg.InitializeLogging(); err != nil {
			return err
		}
		a.log = logger.GetLogger()
	}

	if a.provider.Tool == nil {
		a.provider.Tool = tshark.New(cfg.Tshark.Path, tshark.WithLogger(a.log))
	}
	return nil
}

// catalog opens the catalog unless one was injected or it is disabled. The
// returned close func is always safe to call.
func (a *app) catalog() (Catalog, func(), error) {
	if a.provider.Catalog != nil {
		return a.provider.Catalog, func() {}, nil
	}
	if !a.cfg.Catalog.Enabled {
		return nil, func() {}, nil
	}
	store, err := catalog.Open(a.cfg.Catalog.Path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open catalog: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			a.log.Warn("Failed to close catalog: %v", err)
		}
	}, nil
}

// newRootCmd wires up the CLI with the given dependencies
func newRootCmd(provider *DependencyProvider) *cobra.Command {
	a := &app{provider: provider}

	rootCmd := &cobra.Command{
		Use:   "enigma-tshark",
		Short: "Enigma Tshark - capture sessions and capture-file analysis with tshark",
		Long: `Enigma Tshark drives tshark to capture traffic on one interface, and to read,
filter and summarize capture files.

Configuration is read from config.{json,yaml,toml} in the working directory or
the file given with --config. Every key can be overridden with an environment
variable prefixed TSHARK_, e.g. TSHARK_CAPTURE_INTERFACE=2. A .env file is
loaded first if present.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Path to a .env file")

	rootCmd.AddCommand(
		newInterfacesCmd(a),
		newCaptureCmd(a),
		newReadCmd(a),
		newFilterCmd(a),
		newStatsCmd(a),
		newInspectCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
		newCollectLogsCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(&DependencyProvider{})
	err := rootCmd.ExecuteContext(ctx)
	_ = logger.OrDefault(nil).Close()
	if err != nil {
		os.Exit(1)
	}
}
