package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/crmadmin/internal/model"
)

// PostgresDocumentRepo はPostgreSQLのJSONB列を使用したドキュメントリポジトリ。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

const documentColumns = `id, collection_id, database_id, data, permissions, created_at, updated_at`

// systemOrderColumns はシステムフィールドでの並び替えに使う列名。
var systemOrderColumns = map[string]string{
	model.FieldID:        "id",
	model.FieldCreatedAt: "created_at",
	model.FieldUpdatedAt: "updated_at",
}

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	doc := &model.Document{}
	var raw []byte
	err := row.Scan(
		&doc.ID, &doc.CollectionID, &doc.DatabaseID, &raw,
		pq.Array(&doc.Permissions), &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Data = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to decode document data: %w", err)
		}
	}
	return doc, nil
}

// FindByID は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindByID(ctx context.Context, databaseID, collectionID, id string) (*model.Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE database_id = $1 AND collection_id = $2 AND id = $3`,
		databaseID, collectionID, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

// List は条件に一致するドキュメントと総件数を返す。
// 等価条件は data @> のJSONB包含検索で評価する。
func (r *PostgresDocumentRepo) List(ctx context.Context, databaseID, collectionID string, readRoles []string, q model.DocumentQuery) (*model.DocumentList, error) {
	where := []string{"database_id = $1", "collection_id = $2"}
	args := []any{databaseID, collectionID}

	if len(q.Filters) > 0 {
		contains := make(map[string]any, len(q.Filters))
		for _, f := range q.Filters {
			contains[f.Field] = f.Value
		}
		raw, err := json.Marshal(contains)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filters: %w", err)
		}
		args = append(args, string(raw))
		where = append(where, fmt.Sprintf("data @> $%d::jsonb", len(args)))
	}
	if len(readRoles) > 0 {
		args = append(args, pq.Array(readRoles))
		where = append(where, fmt.Sprintf("permissions && $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	dir := "ASC"
	if q.OrderDesc {
		dir = "DESC"
	}
	order := "created_at " + dir + ", id " + dir
	if q.OrderBy != "" {
		if col, ok := systemOrderColumns[q.OrderBy]; ok {
			order = col + " " + dir + ", id " + dir
		} else {
			args = append(args, q.OrderBy)
			order = fmt.Sprintf("data->>$%d %s, id %s", len(args), dir, dir)
		}
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + cond + ` ORDER BY ` + order
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	list := &model.DocumentList{Total: total, Documents: []*model.Document{}}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		list.Documents = append(list.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return list, nil
}

// Create はドキュメントを作成する。
func (r *PostgresDocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document data: %w", err)
	}
	perms := doc.Permissions
	if perms == nil {
		perms = []string{}
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection_id, database_id, data, permissions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`,
		doc.ID, doc.CollectionID, doc.DatabaseID, string(raw), pq.Array(perms), doc.CreatedAt, doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Update はドキュメントのデータと権限を置き換える。
func (r *PostgresDocumentRepo) Update(ctx context.Context, doc *model.Document) error {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document data: %w", err)
	}
	perms := doc.Permissions
	if perms == nil {
		perms = []string{}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents
		 SET data = $4::jsonb, permissions = $5, updated_at = $6
		 WHERE database_id = $1 AND collection_id = $2 AND id = $3`,
		doc.DatabaseID, doc.CollectionID, doc.ID, string(raw), pq.Array(perms), doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	return nil
}

// Delete はドキュメントを削除する。
func (r *PostgresDocumentRepo) Delete(ctx context.Context, databaseID, collectionID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE database_id = $1 AND collection_id = $2 AND id = $3`,
		databaseID, collectionID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
