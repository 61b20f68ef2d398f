package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nyasuto/hive/internal/bee"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the tmux session, spawn the bees, and inject role documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sup.Init(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Printf("hive session %q is up: %d bees ready\n",
				a.cfg.Hive.SessionName, len(bee.RealBees()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "tear down an existing session first")
	return cmd
}

func newInjectRolesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "inject-roles [bee]",
		Short: "Reinject role prompts into running bees",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			targets := bee.RealBees()
			if !all && len(args) == 1 {
				name, err := bee.Parse(args[0])
				if err != nil {
					return err
				}
				targets = []bee.Name{name}
			}
			if err := a.sup.InjectRoles(cmd.Context(), targets, false); err != nil {
				return err
			}
			fmt.Printf("role documents injected into %d bee(s)\n", len(targets))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reinject every bee")
	return cmd
}
