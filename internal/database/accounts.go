package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

func (p *DB) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" || u.Username == "" {
		return &models.ValidationError{Field: "username", Message: "user id and username are required"}
	}
	if u.DateJoined.IsZero() {
		u.DateJoined = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, username, is_active, is_superuser, date_joined)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := p.db.ExecContext(ctx, p.rebind(query), u.ID, u.Username, u.IsActive, u.IsSuperuser, toMillis(u.DateJoined))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, username, is_active, is_superuser, date_joined FROM users WHERE id = ?`
	var (
		u      models.User
		joined int64
	)
	err := p.db.QueryRowContext(ctx, p.rebind(query), id).Scan(&u.ID, &u.Username, &u.IsActive, &u.IsSuperuser, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.DateJoined = fromMillis(joined)
	return &u, nil
}

// RemoveUser deletes an account. Media the user uploaded stays, with the
// uploader cleared.
func (p *DB) RemoveUser(ctx context.Context, id string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, p.rebind(`UPDATE media SET uploaded_by_user_id = NULL WHERE uploaded_by_user_id = ?`), id); err != nil {
			return fmt.Errorf("clear uploader: %w", err)
		}
		if _, err := tx.ExecContext(ctx, p.rebind(`DELETE FROM collection_grants WHERE user_id = ?`), id); err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		result, err := tx.ExecContext(ctx, p.rebind(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *DB) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	var c models.Collection
	err := p.db.QueryRowContext(ctx, p.rebind(`SELECT id, name, path, depth FROM collections WHERE id = ?`), id).
		Scan(&c.ID, &c.Name, &c.Path, &c.Depth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCollection adds a child under parentID, after its last sibling.
func (p *DB) CreateCollection(ctx context.Context, parentID int64, name string) (*models.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Message: "this field is required"}
	}
	var child models.Collection
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var parent models.Collection
		err := tx.QueryRowContext(ctx, p.rebind(`SELECT id, name, path, depth FROM collections WHERE id = ?`), parentID).
			Scan(&parent.ID, &parent.Name, &parent.Path, &parent.Depth)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var last sql.NullString
		err = tx.QueryRowContext(ctx,
			p.rebind(`SELECT MAX(path) FROM collections WHERE depth = ? AND path LIKE ?`),
			parent.Depth+1, parent.Path+"%",
		).Scan(&last)
		if err != nil {
			return err
		}
		next := 1
		if last.Valid {
			n, err := strconv.Atoi(last.String[len(last.String)-models.PathStepLength:])
			if err != nil {
				return fmt.Errorf("corrupt collection path %q: %w", last.String, err)
			}
			next = n + 1
		}
		path, err := models.ChildPath(parent.Path, next)
		if err != nil {
			return err
		}

		child = models.Collection{Name: name, Path: path, Depth: parent.Depth + 1}
		return tx.QueryRowContext(ctx,
			p.rebind(`INSERT INTO collections (name, path, depth) VALUES (?, ?, ?) RETURNING id`),
			child.Name, child.Path, child.Depth,
		).Scan(&child.ID)
	})
	if err != nil {
		return nil, err
	}
	return &child, nil
}

func (p *DB) ListCollections(ctx context.Context) ([]models.Collection, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, path, depth FROM collections ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Path, &c.Depth); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *DB) AddGrant(ctx context.Context, userID string, collectionID int64, action models.Action) error {
	if !action.Valid() {
		return &models.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", action)}
	}
	var query string
	if p.dialect == SQLite {
		query = `INSERT OR IGNORE INTO collection_grants (user_id, collection_id, action) VALUES (?, ?, ?)`
	} else {
		query = `INSERT INTO collection_grants (user_id, collection_id, action) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	}
	_, err := p.db.ExecContext(ctx, p.rebind(query), userID, collectionID, string(action))
	return err
}

// ListGrants returns every grant with its collection path.
func (p *DB) ListGrants(ctx context.Context) ([]models.Grant, error) {
	query := `
		SELECT g.user_id, g.collection_id, c.path, g.action
		FROM collection_grants g
		JOIN collections c ON c.id = g.collection_id
		ORDER BY g.user_id, c.path
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []models.Grant
	for rows.Next() {
		var (
			g      models.Grant
			action string
		)
		if err := rows.Scan(&g.UserID, &g.CollectionID, &g.CollectionPath, &action); err != nil {
			return nil, err
		}
		g.Action = models.Action(action)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
