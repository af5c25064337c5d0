package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// MaxSearchCandidates caps the rows a search pulls before ranking.
const MaxSearchCandidates = 500

// MediaFilter narrows list and search queries. Zero values match everything.
type MediaFilter struct {
	CollectionID int64
	// CollectionPaths limits results to these subtrees. Nil means no limit;
	// an empty non-nil slice matches nothing.
	CollectionPaths []string
	UploadedBy      string
	Tag             string
	Kind            models.Kind
}

const mediaColumns = `
	m.id, m.title, m.file, m.type, m.width, m.height, m.thumbnail,
	m.created_at, m.uploaded_by_user_id, m.collection_id, c.path`

const mediaFrom = `
	FROM media m
	JOIN collections c ON c.id = m.collection_id`

func (p *DB) InsertMedia(ctx context.Context, m *models.Media) error {
	if m.CollectionID == 0 {
		m.CollectionID = models.RootCollectionID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Tags = models.NormalizeTags(m.Tags)

	return p.withTx(ctx, func(tx *sql.Tx) error {
		var path string
		err := tx.QueryRowContext(ctx, p.rebind(`SELECT path FROM collections WHERE id = ?`), m.CollectionID).Scan(&path)
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ValidationError{Field: "collection", Message: fmt.Sprintf("collection %d does not exist", m.CollectionID)}
		}
		if err != nil {
			return err
		}

		query := `
			INSERT INTO media (title, file, type, width, height, thumbnail, created_at, uploaded_by_user_id, collection_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`
		err = tx.QueryRowContext(ctx, p.rebind(query),
			m.Title,
			m.File,
			string(m.Kind),
			nullInt32(m.Width),
			nullInt32(m.Height),
			m.Thumbnail,
			toMillis(m.CreatedAt),
			nullString(m.UploadedByUserID),
			m.CollectionID,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert media: %w", err)
		}
		m.CollectionPath = path
		return p.replaceTags(ctx, tx, m.ID, m.Tags)
	})
}

func (p *DB) GetMedia(ctx context.Context, id int64) (*models.Media, error) {
	query := `SELECT ` + mediaColumns + mediaFrom + ` WHERE m.id = ?`
	m, err := scanMedia(p.db.QueryRowContext(ctx, p.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tags, err := p.tagsFor(ctx, p.db, []int64{id})
	if err != nil {
		return nil, err
	}
	m.Tags = tags[id]
	return m, nil
}

// UpdateMedia writes every mutable column and replaces the tag set.
// CreatedAt is never changed.
func (p *DB) UpdateMedia(ctx context.Context, m *models.Media) error {
	m.Tags = models.NormalizeTags(m.Tags)
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var path string
		err := tx.QueryRowContext(ctx, p.rebind(`SELECT path FROM collections WHERE id = ?`), m.CollectionID).Scan(&path)
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ValidationError{Field: "collection", Message: fmt.Sprintf("collection %d does not exist", m.CollectionID)}
		}
		if err != nil {
			return err
		}

		query := `
			UPDATE media
			SET title = ?, file = ?, type = ?, width = ?, height = ?, thumbnail = ?, collection_id = ?
			WHERE id = ?
		`
		result, err := tx.ExecContext(ctx, p.rebind(query),
			m.Title,
			m.File,
			string(m.Kind),
			nullInt32(m.Width),
			nullInt32(m.Height),
			m.Thumbnail,
			m.CollectionID,
			m.ID,
		)
		if err != nil {
			return fmt.Errorf("update media: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		m.CollectionPath = path
		return p.replaceTags(ctx, tx, m.ID, m.Tags)
	})
}

// SetThumbnail replaces thumbnail from with to and fills width and height
// when given. It returns ErrThumbnailChanged when the row no longer holds
// from, so a concurrent edit is never overwritten.
func (p *DB) SetThumbnail(ctx context.Context, id int64, from, to string, width, height *int32) error {
	query := `
		UPDATE media
		SET thumbnail = ?,
		    width = COALESCE(width, ?),
		    height = COALESCE(height, ?)
		WHERE id = ? AND thumbnail = ?
	`
	result, err := p.db.ExecContext(ctx, p.rebind(query), to, nullInt32(width), nullInt32(height), id, from)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	var current string
	err = p.db.QueryRowContext(ctx, p.rebind(`SELECT thumbnail FROM media WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrThumbnailChanged
}

// DeleteMedia removes the row together with its tags, references and jobs.
func (p *DB) DeleteMedia(ctx context.Context, id int64) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"media_tags", "media_references", "processing_jobs"} {
			if _, err := tx.ExecContext(ctx, p.rebind(`DELETE FROM `+table+` WHERE media_id = ?`), id); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		result, err := tx.ExecContext(ctx, p.rebind(`DELETE FROM media WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListMedia returns records newest first.
func (p *DB) ListMedia(ctx context.Context, filter MediaFilter, limit, offset int) ([]*models.Media, error) {
	where, args := p.filterClause(filter)
	query := `SELECT ` + mediaColumns + mediaFrom + where + ` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return p.queryMedia(ctx, query, args...)
}

// SearchCandidates returns records whose title or a tag contains any term.
func (p *DB) SearchCandidates(ctx context.Context, terms []string, filter MediaFilter) ([]*models.Media, error) {
	where, args := p.filterClause(filter)
	if len(terms) > 0 {
		var ors []string
		for _, term := range terms {
			pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
			ors = append(ors, `LOWER(m.title) LIKE ? ESCAPE '\'`)
			ors = append(ors, `EXISTS (
				SELECT 1 FROM media_tags mt JOIN tags t ON t.id = mt.tag_id
				WHERE mt.media_id = m.id AND LOWER(t.name) LIKE ? ESCAPE '\')`)
			args = append(args, pattern, pattern)
		}
		where += joinWhere(where) + "(" + strings.Join(ors, " OR ") + ")"
	}
	query := `SELECT ` + mediaColumns + mediaFrom + where + ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	args = append(args, MaxSearchCandidates)
	return p.queryMedia(ctx, query, args...)
}

func (p *DB) queryMedia(ctx context.Context, query string, args ...any) ([]*models.Media, error) {
	rows, err := p.db.QueryContext(ctx, p.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	var (
		records []*models.Media
		ids     []int64
	)
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Tags load after the cursor is closed; sqlite runs on one connection.
	tags, err := p.tagsFor(ctx, p.db, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range records {
		m.Tags = tags[m.ID]
	}
	return records, nil
}

func (p *DB) filterClause(f MediaFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.CollectionID != 0 {
		conds = append(conds, "m.collection_id = ?")
		args = append(args, f.CollectionID)
	}
	if f.CollectionPaths != nil {
		if len(f.CollectionPaths) == 0 {
			conds = append(conds, "1 = 0")
		} else {
			var ors []string
			for _, path := range f.CollectionPaths {
				ors = append(ors, "c.path LIKE ?")
				args = append(args, path+"%")
			}
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if f.UploadedBy != "" {
		conds = append(conds, "m.uploaded_by_user_id = ?")
		args = append(args, f.UploadedBy)
	}
	if f.Kind != "" {
		conds = append(conds, "m.type = ?")
		args = append(args, string(f.Kind))
	}
	if f.Tag != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM media_tags mt JOIN tags t ON t.id = mt.tag_id
			WHERE mt.media_id = m.id AND LOWER(t.name) = ?)`)
		args = append(args, strings.ToLower(f.Tag))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func joinWhere(where string) string {
	if where == "" {
		return " WHERE "
	}
	return " AND "
}

func (p *DB) replaceTags(ctx context.Context, tx *sql.Tx, mediaID int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, p.rebind(`DELETE FROM media_tags WHERE media_id = ?`), mediaID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, name := range tags {
		tagID, err := p.ensureTag(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, p.rebind(`INSERT INTO media_tags (media_id, tag_id) VALUES (?, ?)`), mediaID, tagID); err != nil {
			return fmt.Errorf("tag media: %w", err)
		}
	}
	return nil
}

func (p *DB) ensureTag(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, p.rebind(`SELECT id FROM tags WHERE LOWER(name) = ?`), strings.ToLower(name)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	err = tx.QueryRowContext(ctx, p.rebind(`INSERT INTO tags (name) VALUES (?) RETURNING id`), name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create tag %q: %w", name, err)
	}
	return id, nil
}

func (p *DB) tagsFor(ctx context.Context, q querier, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `
		SELECT mt.media_id, t.name
		FROM media_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.media_id IN (` + placeholders(len(ids)) + `)
		ORDER BY LOWER(t.name)
	`
	rows, err := q.QueryContext(ctx, p.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (*models.Media, error) {
	var (
		m          models.Media
		kind       string
		width      sql.NullInt32
		height     sql.NullInt32
		createdAt  int64
		uploadedBy sql.NullString
	)
	err := row.Scan(
		&m.ID,
		&m.Title,
		&m.File,
		&kind,
		&width,
		&height,
		&m.Thumbnail,
		&createdAt,
		&uploadedBy,
		&m.CollectionID,
		&m.CollectionPath,
	)
	if err != nil {
		return nil, err
	}
	m.Kind = models.Kind(kind)
	m.CreatedAt = fromMillis(createdAt)
	if width.Valid {
		m.Width = &width.Int32
	}
	if height.Valid {
		m.Height = &height.Int32
	}
	if uploadedBy.Valid {
		m.UploadedByUserID = &uploadedBy.String
	}
	return &m, nil
}

func nullInt32(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
