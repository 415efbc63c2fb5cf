package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Options carries the boot-time storage settings [Resolve] selects on. They
// come from the configuration loaded once at startup; nothing re-reads them
// afterwards.
type Options struct {
	// MongoURI is the durable backend's connection string. Presence is the
	// sole selection signal: empty means embedded, non-empty means try
	// durable first.
	MongoURI string

	// MongoDatabase is the database name on the durable deployment.
	MongoDatabase string

	// DBPath is the embedded database file.
	DBPath string
}

// durableOpener constructs the durable backend. Injected in tests so the
// fallback paths can run without a live deployment.
type durableOpener func(ctx context.Context, uri, database string) (backend, error)

// Resolve selects the storage backend exactly once, at boot:
//
//   - MongoURI present and well-formed: open the durable store, health
//     check included. On success the store runs in durable mode.
//   - MongoURI absent, malformed, or the durable store unreachable: fall
//     back to the embedded store with a logged warning. Absence alone never
//     touches the network.
//   - Embedded store also unusable: return the error; the process has no
//     backend to run on.
//
// The returned handle is shared by reference and its backend never changes
// for the life of the process.
func Resolve(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	return resolve(ctx, opts, logger, openMongo)
}

func resolve(ctx context.Context, opts Options, logger *slog.Logger, openDurable durableOpener) (*Store, error) {
	uri := strings.TrimSpace(opts.MongoURI)
	if uri != "" {
		if err := checkMongoURI(uri); err != nil {
			logger.Warn("durable connection string is malformed, treating it as absent", "error", err)
		} else {
			b, err := openDurable(ctx, uri, opts.MongoDatabase)
			if err == nil {
				logger.Info("storage backend selected", "mode", ModeDurable, "database", opts.MongoDatabase)
				return &Store{mode: ModeDurable, b: b}, nil
			}
			logger.Warn("durable store unavailable, falling back to embedded", "error", err)
		}
	}

	st, err := OpenEmbedded(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening embedded store: %w", err)
	}
	logger.Info("storage backend selected", "mode", ModeEmbedded, "path", opts.DBPath)
	return st, nil
}

// checkMongoURI rejects strings that cannot be MongoDB connection strings.
// The URI itself never appears in the error, keeping credentials out of
// logs.
func checkMongoURI(uri string) error {
	rest, ok := strings.CutPrefix(uri, "mongodb://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "mongodb+srv://")
	}
	if !ok {
		return errors.New("connection string must start with mongodb:// or mongodb+srv://")
	}
	if rest == "" {
		return errors.New("connection string has no host")
	}
	return nil
}
