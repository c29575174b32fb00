package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/crmadmin/internal/model"
)

// PostgresAttributeRepo はPostgreSQLを使用した属性定義リポジトリ。
type PostgresAttributeRepo struct {
	db *sql.DB
}

// NewPostgresAttributeRepo はPostgresAttributeRepoを生成する。
func NewPostgresAttributeRepo(db *sql.DB) *PostgresAttributeRepo {
	return &PostgresAttributeRepo{db: db}
}

// Create は属性を定義する。
func (r *PostgresAttributeRepo) Create(ctx context.Context, databaseID string, attr *model.Attribute) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attributes (database_id, collection_id, key, type, size, required, default_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		databaseID, attr.CollectionID, attr.Key, attr.Type, attr.Size, attr.Required, attr.Default, attr.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create attribute: %w", err)
	}
	return nil
}

// ListByCollection はコレクションの属性定義をキー順に返す。
func (r *PostgresAttributeRepo) ListByCollection(ctx context.Context, databaseID, collectionID string) ([]*model.Attribute, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT collection_id, key, type, size, required, default_value, created_at
		 FROM attributes
		 WHERE database_id = $1 AND collection_id = $2
		 ORDER BY key`,
		databaseID, collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	defer rows.Close()

	var attrs []*model.Attribute
	for rows.Next() {
		a := &model.Attribute{}
		var def sql.NullString
		if err := rows.Scan(&a.CollectionID, &a.Key, &a.Type, &a.Size, &a.Required, &def, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		if def.Valid {
			v := def.String
			a.Default = &v
		}
		attrs = append(attrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attributes: %w", err)
	}
	return attrs, nil
}

// compile-time interface check
var _ AttributeRepository = (*PostgresAttributeRepo)(nil)
