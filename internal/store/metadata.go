package store

import (
	"context"
	"database/sql"
)

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (c conn) SetMetadata(ctx context.Context, key, value string) error {
	_, err := c.exec(ctx,
		`INSERT INTO exam_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (c conn) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := c.queryRow(ctx, `SELECT value FROM exam_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the sha256 recorded for an imported paper file.
func (c conn) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	return c.GetMetadata(ctx, "import:"+path)
}

// SetImportedFileHash records the sha256 of an imported paper file.
func (c conn) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return c.SetMetadata(ctx, "import:"+path, hash)
}
