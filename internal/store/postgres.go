package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgres creates a PostgreSQL-backed repository. A non-empty key
// replaces the password in connURL.
func NewPostgres(connURL, key string) (*SQLStore, error) {
	dsn, err := postgresDSN(connURL, key)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newSQLStore(db, dialectPostgres)
}

func postgresDSN(connURL, key string) (string, error) {
	if key == "" {
		return connURL, nil
	}
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	username := "postgres"
	if u.User != nil && u.User.Username() != "" {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, key)
	return u.String(), nil
}
