package chat

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// schemaQuery introspects the public schema, ordered by table then column
// position, for the snapshot handed to the model.
const schemaQuery = `
	SELECT
		table_name,
		column_name,
		data_type,
		is_nullable
	FROM
		information_schema.columns
	WHERE
		table_schema = 'public'
	ORDER BY
		table_name, ordinal_position
`

// pgxDatabase implements database over a single pgx connection.
type pgxDatabase struct {
	conn *pgx.Conn
}

func connectPgx(ctx context.Context, databaseURL string) (database, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &pgxDatabase{conn: conn}, nil
}

func (d *pgxDatabase) Close(ctx context.Context) {
	_ = d.conn.Close(ctx)
}

func (d *pgxDatabase) Schema(ctx context.Context) ([]TableSchema, error) {
	rows, err := d.conn.Query(ctx, schemaQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	defer rows.Close()

	var (
		tables  []TableSchema
		current *TableSchema
	)
	for rows.Next() {
		var tableName string
		var column ColumnSchema
		if err := rows.Scan(&tableName, &column.ColumnName, &column.DataType, &column.IsNullable); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}

		if current == nil || current.TableName != tableName {
			tables = append(tables, TableSchema{TableName: tableName})
			current = &tables[len(tables)-1]
		}
		current.Columns = append(current.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}

	return tables, nil
}

func (d *pgxDatabase) Select(ctx context.Context, sqlQuery string) ([]map[string]any, error) {
	rows, err := d.conn.Query(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var results []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		row := make(map[string]any, len(fields))
		for i, field := range fields {
			row[field.Name] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if results == nil {
		results = []map[string]any{}
	}
	return results, nil
}

// Execute runs a mutating statement inside an explicitly committed
// transaction and discards any result.
func (d *pgxDatabase) Execute(ctx context.Context, sqlQuery string) error {
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, sqlQuery); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// normalizeValue flattens driver-specific types into JSON-friendly values.
// Fixed-precision numerics become float64 so action results marshal cleanly.
func normalizeValue(v any) any {
	if n, ok := v.(pgtype.Numeric); ok {
		f, err := n.Float64Value()
		if err == nil && f.Valid {
			return f.Float64
		}
	}
	return v
}
