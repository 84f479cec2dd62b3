package main

import (
	"github.com/spf13/cobra"

	"github.com/scrypster/invoice-memory/pkg/types"
)

func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback FILE",
		Short: "Learn from a reviewer's corrections",
		Long: `Read human feedback as JSON ("-" for standard input) and turn each
correction into a new vendor or correction memory. The invoice must have been
processed before so its vendor is known.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fb types.HumanFeedback
			if err := readJSONFile(args[0], cmd.InOrStdin(), &fb); err != nil {
				return err
			}

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			updates, err := a.service.SubmitFeedback(cmd.Context(), &fb)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), updates)
		},
	}
}
