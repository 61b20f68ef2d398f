package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	"github.com/nyasuto/hive/internal/common/config"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/events"
	eventbus "github.com/nyasuto/hive/internal/events/bus"
	"github.com/nyasuto/hive/internal/injector"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/supervisor"
	"github.com/nyasuto/hive/internal/task"
	"github.com/nyasuto/hive/internal/tmux"
)

var (
	flagConfig   string
	flagLogLevel string
	flagDBPath   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "beehive",
		Short:         "Multi-agent hive orchestrator",
		Long:          "beehive coordinates LLM CLI bees running in tmux panes: task delegation,\ninter-bee messaging, and supervision.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file directory")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override logging level")
	root.PersistentFlags().StringVar(&flagDBPath, "db", "", "override database path")

	root.AddCommand(
		newInitCmd(),
		newInjectRolesCmd(),
		newStartTaskCmd(),
		newTaskCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newAttachCmd(),
		newRemindCmd(),
		newDaemonCmd(),
		newStopCmd(),
	)
	return root
}

// app holds the wired components a command needs. Commands build it on
// demand so `beehive --help` never touches the database.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	client   *tmux.Client
	panes    *bee.Panes
	injector *injector.Injector
	events   eventbus.EventBus
	bus      *bus.Bus
	engine   *task.Engine
	sup      *supervisor.Supervisor

	cleanups []func()
}

func newApp() (*app, error) {
	cfg, err := config.LoadWithPath(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDBPath != "" {
		cfg.Hive.DBPath = flagDBPath
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	if err := os.MkdirAll(filepath.Dir(cfg.Hive.DBPath), 0o755); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Hive.DBPath, log)
	if err != nil {
		return nil, err
	}
	st.SetTimeout(cfg.Hive.DBTimeoutDuration())

	panes, err := bee.NewPanes(cfg.Hive.PaneMapping)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	client := tmux.NewClient(cfg.Hive.SessionName, nil, log)

	ev, evCleanup, err := events.Provide(cfg, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	inj := injector.New(client, panes, st, cfg.Injector.Concurrency, log)
	b := bus.New(st, inj, ev, cfg.Hive.ExtraMessageTypes, log)
	engine := task.New(st, b, ev, log)
	sup := supervisor.New(cfg, st, b, inj, client, panes, ev, log)

	a := &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		client:   client,
		panes:    panes,
		injector: inj,
		events:   ev,
		bus:      b,
		engine:   engine,
		sup:      sup,
	}
	a.cleanups = append(a.cleanups, evCleanup, func() { _ = st.Close() }, func() { _ = log.Sync() })
	return a, nil
}

// Close releases app resources in reverse wiring order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

