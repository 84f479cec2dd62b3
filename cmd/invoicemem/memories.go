package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

func memoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "Inspect and adjust learned memories",
	}
	cmd.AddCommand(memoriesListCmd())
	cmd.AddCommand(memoriesAdjustCmd("reinforce", "Raise a memory's confidence"))
	cmd.AddCommand(memoriesAdjustCmd("weaken", "Lower a memory's confidence"))
	return cmd
}

func memoriesListCmd() *cobra.Command {
	var (
		filter  storage.QueryFilter
		memType string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if memType != "" {
				filter.Type = types.MemoryType(memType)
				if !types.IsValidMemoryType(filter.Type) {
					return fmt.Errorf("unknown memory type %q", memType)
				}
			}

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			memories, err := a.service.ListMemories(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if memories == nil {
				memories = []*types.Memory{}
			}
			return writeJSON(cmd.OutOrStdout(), memories)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&filter.Vendor, "vendor", "", "only this vendor")
	flags.StringVar(&memType, "type", "", "vendor, correction or resolution")
	flags.StringVar(&filter.FieldName, "field", "", "only memories targeting this field")
	flags.Float64Var(&filter.MinConfidence, "min-confidence", 0, "minimum stored confidence")
	flags.IntVar(&filter.Limit, "limit", storage.DefaultQueryLimit, "maximum number of memories")
	return cmd
}

func memoriesAdjustCmd(action, short string) *cobra.Command {
	var strength float64

	cmd := &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strength < 0 || strength > 1 {
				return fmt.Errorf("strength must be within [0, 1], got %v", strength)
			}

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			adjust := a.service.ReinforceMemory
			if action == "weaken" {
				adjust = a.service.WeakenMemory
			}
			mem, err := adjust(cmd.Context(), args[0], strength)
			if err != nil {
				return err
			}
			if mem == nil {
				return fmt.Errorf("memory %s not found or inactive", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), mem)
		},
	}

	cmd.Flags().Float64Var(&strength, "strength", 0, "step size (0 uses the engine default)")
	return cmd
}
