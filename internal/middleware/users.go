package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrInactiveUser = errors.New("user is inactive")
)

// ServiceUser acts for API key callers that name no user.
var ServiceUser = models.User{Username: "service", IsActive: true, IsSuperuser: true}

// UserStore resolves authenticated user ids.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// CurrentUser maps the principal in ctx to a user. Requests without a
// principal are anonymous and get nil.
func CurrentUser(ctx context.Context, users UserStore) (*models.User, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, nil
	}
	if p.UserID == "" {
		if p.APIKey {
			u := ServiceUser
			return &u, nil
		}
		return nil, nil
	}
	user, err := users.GetUser(ctx, p.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", p.UserID, err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}
