package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the stores expect.
// ARCHITECTURAL DISCOVERY: kept apart from MigrationManager so deployments can
// verify an externally managed database without applying anything
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// expectedColumns maps table -> column -> declared type.
var expectedColumns = map[string]map[string]string{
	"users": {
		"id":           "TEXT",
		"display_name": "TEXT",
		"avatar_url":   "TEXT",
		"is_online":    "INTEGER",
		"status":       "TEXT",
		"last_seen":    "INTEGER",
	},
	"channels": {
		"id":         "TEXT",
		"name":       "TEXT",
		"is_private": "INTEGER",
		"created_at": "INTEGER",
	},
	"channel_members": {
		"channel_id": "TEXT",
		"user_id":    "TEXT",
		"joined_at":  "INTEGER",
	},
	"blocks": {
		"blocker_id": "TEXT",
		"blocked_id": "TEXT",
		"created_at": "INTEGER",
	},
	"messages": {
		"id":                "TEXT",
		"audience_kind":     "TEXT",
		"channel_id":        "TEXT",
		"sender_id":         "TEXT",
		"recipient_id":      "TEXT",
		"content":           "TEXT",
		"message_kind":      "TEXT",
		"parent_message_id": "TEXT",
		"created_at":        "INTEGER",
	},
	"device_tokens": {
		"token":       "TEXT",
		"user_id":     "TEXT",
		"device_type": "TEXT",
		"device_id":   "TEXT",
		"updated_at":  "INTEGER",
	},
}

// Validate runs every check in order and returns the first failure.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	checks := []func(context.Context) error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	tables := append(append([]string{}, RequiredTables...), "schema_migrations")
	for _, table := range tables {
		exists, err := objectExists(ctx, v.db, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	for table, columns := range expectedColumns {
		if err := v.validateColumns(ctx, table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range RequiredIndexes {
		exists, err := objectExists(ctx, v.db, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints probes the foreign key and check constraints inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin constraint probe: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// messages.sender_id -> users.id
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, audience_kind, sender_id, recipient_id, content, created_at)
		VALUES ('schema-probe', 'DIRECT', 'schema-probe-missing', 'schema-probe-missing', 'x', 0)
	`)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: messages.sender_id")
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ('schema-probe-user')`); err != nil {
		return fmt.Errorf("failed to create probe user: %w", err)
	}

	// a channel message must not carry a recipient
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, audience_kind, sender_id, recipient_id, content, created_at)
		VALUES ('schema-probe', 'CHANNEL', 'schema-probe-user', 'schema-probe-user', 'x', 0)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: message audience shape")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, audience_kind, sender_id, recipient_id, content, message_kind, created_at)
		VALUES ('schema-probe', 'DIRECT', 'schema-probe-user', 'schema-probe-user', 'x', 'VIDEO', 0)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: message kind")
	}

	return nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expected map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", column, gotType, wantType)
		}
	}
	return nil
}
