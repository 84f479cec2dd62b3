package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/invoice-memory/pkg/types"
)

func processCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "process FILE...",
		Short: "Run extracted invoices through recall, apply, decide and learn",
		Long: `Process one or more JSON files. Each file holds a single invoice object or an
array of invoices; "-" reads standard input. Results are printed as a JSON
array in input order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var invoices []*types.Invoice
			for _, path := range args {
				batch, err := loadInvoices(path, cmd.InOrStdin())
				if err != nil {
					return err
				}
				invoices = append(invoices, batch...)
			}

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.service.ProcessBatch(cmd.Context(), invoices, workers)
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d invoices failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "invoices processed concurrently")
	return cmd
}

// loadInvoices reads a file holding either one invoice or an array of them.
func loadInvoices(path string, stdin io.Reader) ([]*types.Invoice, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var invoices []*types.Invoice
		if err := json.Unmarshal(trimmed, &invoices); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return invoices, nil
	}

	var inv types.Invoice
	if err := json.Unmarshal(trimmed, &inv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []*types.Invoice{&inv}, nil
}
