package repository

import (
	"context"
	_ "embed"

	"github.com/pesio-ai/be-approval-routing/internal/database"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the approval routing tables when they do not exist.
func EnsureSchema(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply approval routing schema")
	}
	return nil
}
