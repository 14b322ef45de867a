package storage

import (
	"strings"

	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/db"
)

// Provide selects a backend from DATABASE_URL:
//
//	postgres:// or postgresql:// -> PostgreSQL via pgx
//	any other non-empty value    -> SQLite file at that path
//	empty                        -> in-memory (non-durable)
//
// A SQL backend that fails to open degrades to memory with a warning so the
// server still comes up in development environments.
func Provide(cfg config.DatabaseConfig, log *logger.Logger) (Storage, func() error, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		log.Warn("DATABASE_URL not set, using in-memory storage (state is lost on restart)")
		mem := NewMemoryStorage()
		return mem, mem.Close, nil
	}

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		conn, err := db.OpenPostgres(url, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			log.WithError(err).Warn("failed to connect to postgres, falling back to in-memory storage")
			mem := NewMemoryStorage()
			return mem, mem.Close, nil
		}
		// pgx pools internally, so reads and writes share one *sqlx.DB.
		store, err := NewSQLStorage(db.NewPool(conn, conn, conn.DriverName()), true)
		if err != nil {
			return nil, nil, err
		}
		log.Info("storage initialized", zap.String("backend", "postgres"))
		return store, store.Close, nil
	}

	writer, err := db.OpenSQLite(url)
	if err != nil {
		log.WithError(err).Warn("failed to open sqlite database, falling back to in-memory storage")
		mem := NewMemoryStorage()
		return mem, mem.Close, nil
	}
	reader, err := db.OpenSQLiteReader(url)
	if err != nil {
		// Fall back to the writer for reads rather than failing startup.
		reader = writer
	}
	store, err := NewSQLStorage(db.NewPool(writer, reader, writer.DriverName()), true)
	if err != nil {
		return nil, nil, err
	}
	log.Info("storage initialized", zap.String("backend", "sqlite"), zap.String("path", url))
	return store, store.Close, nil
}
