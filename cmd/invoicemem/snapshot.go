package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/scrypster/invoice-memory/internal/backup"
	"github.com/scrypster/invoice-memory/internal/config"
)

var errSnapshotEngine = errors.New("snapshots require the sqlite storage engine")

func newSnapshotter(c *config.Config) (*backup.Snapshotter, error) {
	if c.Storage.StorageEngine != "sqlite" {
		return nil, errSnapshotEngine
	}
	return backup.New(backup.Config{
		DBPath: c.Storage.SQLitePath(),
		Dir:    c.Storage.SnapshotDir(),
		Keep:   c.Storage.SnapshotKeep,
	}, logger)
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list and restore snapshots of the SQLite memory database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Write a verified snapshot and prune old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSnapshotter(cfg)
			if err != nil {
				return err
			}
			snap, err := s.Create(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSnapshotter(cfg)
			if err != nil {
				return err
			}
			snaps, err := s.List()
			if err != nil {
				return err
			}
			if snaps == nil {
				snaps = []backup.Snapshot{}
			}
			return writeJSON(cmd.OutOrStdout(), snaps)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore PATH",
		Short: "Replace the database with a snapshot (stop the server first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSnapshotter(cfg)
			if err != nil {
				return err
			}
			if err := s.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			snap, err := s.Verify(cmd.Context(), cfg.Storage.SQLitePath())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	})

	return cmd
}
