package store

import "github.com/leo-pe2/ai-chat-main/internal/config"

// Open returns the repository selected by cfg: PostgreSQL when a
// connection URL is configured, SQLite otherwise.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	if cfg.IsPostgres() {
		return NewPostgres(cfg.URL, cfg.Key)
	}
	return NewSQLite(cfg.Path)
}
