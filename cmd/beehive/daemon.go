package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/supervisor"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the supervisor daemon",
	}
	cmd.AddCommand(
		newDaemonStartCmd(),
		newDaemonRunCmd(),
		newDaemonStopCmd(),
		newDaemonStatusCmd(),
		newDaemonRestartCmd(),
		newDaemonRemindCmd(),
		newDaemonLogsCmd(),
	)
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the supervisor daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return daemonStart()
		},
	}
}

func daemonStart() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	pidFile := a.cfg.Supervisor.PidFile
	logFile := a.cfg.Supervisor.LogFile
	a.Close()

	if pid, running := supervisor.PIDFileRunning(pidFile); running {
		return apperrors.Precondition("daemon already running with pid %d", pid)
	}

	self, err := os.Executable()
	if err != nil {
		return apperrors.Internal("cannot locate own binary", err)
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return apperrors.Internal("failed to create log directory", err)
	}
	out, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.Internal("failed to open daemon log", err)
	}
	defer func() { _ = out.Close() }()

	args := []string{"daemon", "run"}
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}
	if flagDBPath != "" {
		args = append(args, "--db", flagDBPath)
	}
	child := exec.Command(self, args...)
	child.Stdout = out
	child.Stderr = out
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return apperrors.Internal("failed to spawn daemon", err)
	}
	// Give the child a moment to write its pidfile or die on startup.
	time.Sleep(500 * time.Millisecond)
	if pid, running := supervisor.PIDFileRunning(pidFile); running {
		fmt.Printf("daemon started with pid %d\n", pid)
		return nil
	}
	return apperrors.Internal("daemon did not come up; check "+logFile, nil)
}

// newDaemonRunCmd is the foreground entry the detached child executes.
func newDaemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run the supervisor loop in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			pidFile := a.cfg.Supervisor.PidFile
			if err := supervisor.WritePIDFile(pidFile); err != nil {
				return err
			}
			defer supervisor.RemovePIDFile(pidFile)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.sup.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the supervisor daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidFile, err := daemonPidFile()
			if err != nil {
				return err
			}
			if err := supervisor.SignalStop(pidFile); err != nil {
				return err
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidFile, err := daemonPidFile()
			if err != nil {
				return err
			}
			if pid, running := supervisor.PIDFileRunning(pidFile); running {
				fmt.Printf("daemon running with pid %d\n", pid)
				return nil
			}
			fmt.Println("daemon not running")
			return nil
		},
	}
}

func newDaemonRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the supervisor daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidFile, err := daemonPidFile()
			if err != nil {
				return err
			}
			if _, running := supervisor.PIDFileRunning(pidFile); running {
				if err := supervisor.SignalStop(pidFile); err != nil {
					return err
				}
				for i := 0; i < 20; i++ {
					if _, still := supervisor.PIDFileRunning(pidFile); !still {
						break
					}
					time.Sleep(250 * time.Millisecond)
				}
			}
			return daemonStart()
		},
	}
}

func newDaemonRemindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Ask the running daemon to send role reminders on its next tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidFile, err := daemonPidFile()
			if err != nil {
				return err
			}
			if _, running := supervisor.PIDFileRunning(pidFile); !running {
				return apperrors.Precondition("daemon is not running")
			}
			if err := supervisor.RequestRemind(supervisor.RemindSignalFile(pidFile)); err != nil {
				return err
			}
			fmt.Println("reminder requested")
			return nil
		},
	}
}

func newDaemonLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log tail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			logFile := a.cfg.Supervisor.LogFile
			a.Close()

			data, err := os.ReadFile(logFile)
			if os.IsNotExist(err) {
				return apperrors.NotFound("daemon log", logFile)
			}
			if err != nil {
				return apperrors.Internal("failed to read daemon log", err)
			}
			all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
			if lines > 0 && len(all) > lines {
				all = all[len(all)-lines:]
			}
			for _, line := range all {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "lines from the end")
	return cmd
}

// daemonPidFile loads just enough configuration to find the pidfile.
func daemonPidFile() (string, error) {
	a, err := newApp()
	if err != nil {
		return "", err
	}
	defer a.Close()
	return a.cfg.Supervisor.PidFile, nil
}
