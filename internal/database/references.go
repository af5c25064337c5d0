package database

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// AddReference records that a piece of host content uses a media item.
func (p *DB) AddReference(ctx context.Context, ref models.Reference) error {
	var query string
	if p.dialect == SQLite {
		query = `
			INSERT OR IGNORE INTO media_references (media_id, source_type, source_id, field, label)
			VALUES (?, ?, ?, ?, ?)
		`
	} else {
		query = `
			INSERT INTO media_references (media_id, source_type, source_id, field, label)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (media_id, source_type, source_id, field) DO NOTHING
		`
	}
	_, err := p.db.ExecContext(ctx, p.rebind(query), ref.MediaID, ref.SourceType, ref.SourceID, ref.Field, ref.Label)
	if err != nil {
		return fmt.Errorf("insert reference: %w", err)
	}
	return nil
}

// ClearReferences drops every reference held by one source object.
func (p *DB) ClearReferences(ctx context.Context, sourceType, sourceID string) error {
	_, err := p.db.ExecContext(ctx,
		p.rebind(`DELETE FROM media_references WHERE source_type = ? AND source_id = ?`),
		sourceType, sourceID,
	)
	return err
}

// FindUsage lists the references to a media item.
func (p *DB) FindUsage(ctx context.Context, mediaID int64) ([]models.Reference, error) {
	query := `
		SELECT media_id, source_type, source_id, field, label
		FROM media_references
		WHERE media_id = ?
		ORDER BY source_type, source_id, field
	`
	rows, err := p.db.QueryContext(ctx, p.rebind(query), mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []models.Reference{}
	for rows.Next() {
		var r models.Reference
		if err := rows.Scan(&r.MediaID, &r.SourceType, &r.SourceID, &r.Field, &r.Label); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
