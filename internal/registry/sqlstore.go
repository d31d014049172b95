package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/medisync/medisync-go/internal/model"
)

var ErrRecordNotFound = errors.New("entity record not found")

// SQLStore is a generic JSON-document EntityStore backed by one table
// per entity type (`entity_<type>` with id + data columns). It lets
// the service run end to end without a host application; hosts with
// real domain tables inject their own stores instead.
type SQLStore struct {
	db    *sql.DB
	table string
}

// NewSQLStore creates a store for one entity type.
func NewSQLStore(db *sql.DB, t model.EntityType) *SQLStore {
	return &SQLStore{db: db, table: "entity_" + string(t)}
}

func (s *SQLStore) Create(ctx context.Context, id int64, data model.Payload) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = CURRENT_TIMESTAMP`, s.table)
	_, err = s.db.ExecContext(ctx, query, id, raw)
	return err
}

func (s *SQLStore) Update(ctx context.Context, id int64, data model.Payload) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, s.table)
	result, err := s.db.ExecContext(ctx, query, raw, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Distinguish missing rows from no-op updates.
		var one int
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, s.table), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		return err
	}

	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}
