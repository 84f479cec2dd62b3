package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/scrypster/invoice-memory/internal/config"
	"github.com/scrypster/invoice-memory/internal/engine"
	"github.com/scrypster/invoice-memory/internal/services"
	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/internal/storage/postgres"
	"github.com/scrypster/invoice-memory/internal/storage/resilient"
	"github.com/scrypster/invoice-memory/internal/storage/sqlite"
)

// vendorCacheSize bounds the invoice-to-vendor LRU used for feedback.
const vendorCacheSize = 4096

// app is the fully wired pipeline shared by every subcommand.
type app struct {
	store    *resilient.Store
	invoices storage.InvoiceStore
	manager  *engine.Manager
	service  *services.InvoiceService
}

// openApp opens the configured backend and wires the engine on top of it.
func openApp(c *config.Config, logger *log.Logger) (*app, error) {
	backend, invoices, err := openStorage(c.Storage)
	if err != nil {
		return nil, err
	}

	breakerCfg := resilient.DefaultConfig()
	if c.Engine.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = uint32(c.Engine.BreakerMaxFailures)
	}
	if c.Engine.BreakerTimeout > 0 {
		breakerCfg.Timeout = c.Engine.BreakerTimeout
	}
	store := resilient.New(backend, breakerCfg, logger)

	resolver, err := engine.NewCachedVendorResolver(engine.NewInvoiceStoreResolver(invoices), vendorCacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	engineCfg := engine.ConfigFromGlobal(c)
	manager, err := engine.NewManager(store, resolver, engineCfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	processor, err := engine.NewProcessor(manager, engineCfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := services.NewInvoiceService(processor, store, invoices, services.Options{
		Resolver: resolver,
		Logger:   logger,
	})

	return &app{
		store:    store,
		invoices: invoices,
		manager:  manager,
		service:  svc,
	}, nil
}

// Close releases the storage backend.
func (a *app) Close() error {
	return a.store.Close()
}

func openStorage(sc config.StorageConfig) (storage.MemoryStore, storage.InvoiceStore, error) {
	switch sc.StorageEngine {
	case "postgres":
		store, err := postgres.NewMemoryStore(sc.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return store, store, nil
	case "sqlite", "":
		if err := os.MkdirAll(sc.DataPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewMemoryStore(sc.SQLitePath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return store, sqlite.NewInvoiceStore(store.GetDB()), nil
	}
	return nil, nil, fmt.Errorf("unknown storage engine %q", sc.StorageEngine)
}

// readJSONFile decodes path into dst. "-" reads standard input.
func readJSONFile(path string, stdin io.Reader, dst any) error {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
