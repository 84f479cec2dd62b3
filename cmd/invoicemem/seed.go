package main

import (
	"github.com/spf13/cobra"

	"github.com/scrypster/invoice-memory/internal/bootstrap"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Create memories from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := bootstrap.LoadFile(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := bootstrap.Apply(cmd.Context(), a.manager, f)
			if err != nil {
				return err
			}
			logger.Info("seeded memories", "count", len(ids), "file", args[0])
			return writeJSON(cmd.OutOrStdout(), ids)
		},
	}
}
