package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/task"
)

func newStartTaskCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "start-task \"<text>\"",
		Short: "Create a task assigned to the queen and notify her",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			running, err := a.client.HasSession(ctx)
			if err != nil {
				return err
			}
			if !running {
				return apperrors.Precondition("session %q is not running; run `beehive init` first",
					a.cfg.Hive.SessionName)
			}

			queen := bee.Queen
			created, err := a.engine.Create(ctx, task.CreateRequest{
				Title:       title(args[0]),
				Description: args[0],
				Priority:    store.TaskPriority(priority),
				Assignee:    &queen,
				CreatedBy:   bee.Beekeeper.String(),
			})
			if err != nil {
				return err
			}

			if _, err := a.bus.Send(ctx, bus.SendRequest{
				From:    bee.Beekeeper,
				To:      bee.Queen,
				Type:    store.TypeRequest,
				Subject: "new task",
				Content: fmt.Sprintf("New task %s:\n\n%s\n\nPlan it, split it, and delegate.", created.ID, args[0]),
				TaskID:  &created.ID,
			}); err != nil {
				return err
			}
			fmt.Printf("task %s created and queen notified\n", created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&priority, "priority", string(store.PriorityMedium), "task priority (low|medium|high|critical)")
	return cmd
}

// title derives a one-line title from free-form task text.
func title(text string) string {
	for i, r := range text {
		if r == '\n' || i >= 72 {
			return text[:i]
		}
	}
	return text
}
