package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task engine operations",
	}
	cmd.AddCommand(
		newTaskListCmd(),
		newTaskDetailsCmd(),
		newTaskCreateCmd(),
		newTaskAssignCmd(),
		newTaskStatusCmd(),
		newTaskMessageCmd(),
		newTaskStatsCmd(),
	)
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var status, assignee string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			filter := store.TaskFilter{Status: store.TaskStatus(status), Limit: limit}
			if assignee != "" {
				name, err := bee.Parse(assignee)
				if err != nil {
					return err
				}
				filter.AssignedTo = name
			}
			tasks, err := a.store.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK ID\tSTATUS\tPRIORITY\tASSIGNEE\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Status, t.Priority, nameOrDash(t.AssignedTo), t.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func newTaskDetailsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "details <task-id>",
		Short: "Show one task's status, assignee, blockers, and activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			progress, err := a.engine.GetProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(progress)
			}

			t := progress.Task
			fmt.Printf("Task:     %s\n", t.ID)
			fmt.Printf("Title:    %s\n", t.Title)
			fmt.Printf("Status:   %s\n", t.Status)
			fmt.Printf("Priority: %s\n", t.Priority)
			fmt.Printf("Assignee: %s\n", nameOrDash(t.AssignedTo))
			if len(progress.Blockers) > 0 {
				fmt.Printf("Blocked by: %v\n", progress.Blockers)
			}
			if len(progress.Activity) > 0 {
				fmt.Println("\nRecent activity:")
				for _, entry := range progress.Activity {
					fmt.Printf("  %s  %-18s %s\n",
						entry.CreatedAt.Format("2006-01-02 15:04:05"),
						entry.ActivityType, entry.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	var description, priority, assignee, parent string
	var deps []string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			req := task.CreateRequest{
				Title:        args[0],
				Description:  description,
				Priority:     store.TaskPriority(priority),
				Dependencies: deps,
				CreatedBy:    bee.Beekeeper.String(),
			}
			if description == "" {
				req.Description = args[0]
			}
			if parent != "" {
				req.Parent = &parent
			}
			if assignee != "" {
				name, err := bee.Parse(assignee)
				if err != nil {
					return err
				}
				req.Assignee = &name
			}
			created, err := a.engine.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Println(created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&priority, "priority", string(store.PriorityMedium), "task priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "initial assignee")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().StringArrayVar(&deps, "depends-on", nil, "blocking dependency task id (repeatable)")
	return cmd
}

func newTaskAssignCmd() *cobra.Command {
	var assigner, note string
	var force bool
	cmd := &cobra.Command{
		Use:   "assign <task-id> <bee>",
		Short: "Assign a task to a bee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := bee.Parse(args[1])
			if err != nil {
				return err
			}
			return a.engine.Assign(cmd.Context(), args[0], name, task.AssignOptions{
				Assigner: assigner,
				Note:     note,
				Reassign: force,
			})
		},
	}
	cmd.Flags().StringVar(&assigner, "assigner", "beekeeper", "who assigns")
	cmd.Flags().StringVar(&note, "note", "", "assignment note")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing primary assignee")
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var actor, note string
	cmd := &cobra.Command{
		Use:   "status <task-id> <new-status>",
		Short: "Transition a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			to := store.TaskStatus(args[1])
			if to == store.TaskCancelled {
				return a.engine.Cancel(cmd.Context(), args[0], actor, note)
			}
			return a.engine.Transition(cmd.Context(), args[0], to, actor, note)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "beekeeper", "who transitions")
	cmd.Flags().StringVar(&note, "note", "", "transition note")
	return cmd
}

// newTaskMessageCmd is the sanctioned sender path for bees: messages sent
// here carry sender_cli_used and never trip the supervisor's violation scan.
func newTaskMessageCmd() *cobra.Command {
	var msgType, subject, taskID, priority string
	cmd := &cobra.Command{
		Use:   "message <from> <to> <content>",
		Short: "Send an inter-bee message through the bus",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			from, err := bee.Parse(args[0])
			if err != nil {
				return err
			}
			to, err := bee.Parse(args[1])
			if err != nil {
				return err
			}
			req := bus.SendRequest{
				From:     from,
				To:       to,
				Type:     msgType,
				Subject:  subject,
				Content:  args[2],
				Priority: store.MessagePriority(priority),
			}
			if taskID != "" {
				req.TaskID = &taskID
			}
			ids, err := a.bus.Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&msgType, "type", store.TypeConversation, "message type")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&taskID, "task", "", "related task id")
	cmd.Flags().StringVar(&priority, "priority", string(store.MsgNormal), "message priority")
	return cmd
}

func newTaskStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate task counts per status and assignee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.engine.GetSummary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println("By status:")
			for _, status := range []store.TaskStatus{
				store.TaskPending, store.TaskInProgress, store.TaskCompleted,
				store.TaskFailed, store.TaskCancelled,
			} {
				if n := summary.ByStatus[status]; n > 0 {
					fmt.Printf("  %-12s %d\n", status, n)
				}
			}
			fmt.Println("By assignee:")
			for _, name := range bee.RealBees() {
				if n := summary.ByAssignee[name]; n > 0 {
					fmt.Printf("  %-12s %d\n", name, n)
				}
			}
			return nil
		},
	}
	return cmd
}

func nameOrDash(n *bee.Name) string {
	if n == nil {
		return "-"
	}
	return n.String()
}
