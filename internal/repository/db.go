package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/medisync/medisync-go/internal/model"
)

// NewDB creates a new MySQL database connection pool with the given DSN.
func NewDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		slog.Warn("database ping failed — continuing without DB", "error", err)
	}

	return db, nil
}

// encodePayload marshals a payload for a JSON column. Nil payloads
// store as SQL NULL.
func encodePayload(p model.Payload) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return raw, nil
}

// decodePayload unmarshals a JSON column into a payload. NULL columns
// decode to nil.
func decodePayload(raw []byte) (model.Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p model.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}
