package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/supervisor"
)

func newStatusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print bee liveness and task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for {
				if err := printStatus(cmd, a); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(2 * time.Second):
					fmt.Println()
				}
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "refresh every 2s")
	return cmd
}

func printStatus(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()

	running, err := a.client.HasSession(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("session %q: ", a.cfg.Hive.SessionName)
	if running {
		fmt.Println("running")
	} else {
		fmt.Println("not running")
	}

	states, err := a.store.ListAgentStates(ctx)
	if err != nil {
		return err
	}
	loads, err := a.store.AgentWorkloads(ctx)
	if err != nil {
		return err
	}
	loadByBee := make(map[bee.Name]*store.AgentWorkload, len(loads))
	for _, l := range loads {
		loadByBee[l.BeeName] = l
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BEE\tSTATUS\tTASK\tACTIVE\tUNREAD\tLAST HEARTBEAT")
	for _, s := range states {
		taskRef := "-"
		if s.CurrentTaskID != nil {
			taskRef = *s.CurrentTaskID
		}
		active, unread := 0, 0
		if l := loadByBee[s.BeeName]; l != nil {
			active, unread = l.ActiveTasks, l.UnreadMessages
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.BeeName, s.Status, taskRef, active, unread,
			s.LastHeartbeat.Format("15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	counts, err := a.store.StatusCounts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("tasks: %d pending, %d in progress, %d completed, %d failed, %d cancelled\n",
		counts[store.TaskPending], counts[store.TaskInProgress], counts[store.TaskCompleted],
		counts[store.TaskFailed], counts[store.TaskCancelled])
	return nil
}

func newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs [bee]",
		Short: "Show recent pane output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			targets := bee.RealBees()
			if len(args) == 1 {
				name, err := bee.Parse(args[0])
				if err != nil {
					return err
				}
				targets = []bee.Name{name}
			}
			for _, name := range targets {
				pane, err := a.panes.Resolve(name)
				if err != nil {
					return err
				}
				output, err := a.client.CapturePane(cmd.Context(), pane, lines)
				if err != nil {
					return err
				}
				if len(targets) > 1 {
					fmt.Printf("===== %s (%s) =====\n", name, pane)
				}
				fmt.Println(strings.TrimRight(output, "\n"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "history lines per pane")
	return cmd
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Attach the terminal to the hive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.client.Attach()
		},
	}
}

func newRemindCmd() *cobra.Command {
	var beeName string
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send role reminders immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if beeName != "" {
				name, err := bee.Parse(beeName)
				if err != nil {
					return err
				}
				return a.sup.RemindBee(cmd.Context(), name)
			}
			a.sup.SendReminders(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&beeName, "bee", "", "remind a single bee")
	return cmd
}

func newStopCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully shut the hive down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes && !confirm("Stop the hive and kill the tmux session? [y/N] ") {
				fmt.Println("aborted")
				return nil
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			pidFile := a.cfg.Supervisor.PidFile
			if _, running := supervisor.PIDFileRunning(pidFile); running {
				if err := supervisor.SignalStop(pidFile); err != nil {
					a.log.WithError(err).Warn("failed to stop daemon")
				}
			}
			if err := a.sup.Stop(ctx); err != nil {
				return err
			}
			fmt.Println("hive stopped")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

// confirm reads a y/N answer from stdin; piped input works the same as a
// terminal so scripts can answer y.
func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
