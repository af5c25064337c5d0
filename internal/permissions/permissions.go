package permissions

import (
	"context"
	"sync"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// Policy decides whether a user may perform an action on a record.
type Policy interface {
	UserHasPermissionForInstance(user *models.User, action models.Action, instance *models.Media) bool
}

// Gate answers edit checks by forwarding them to the configured policy.
type Gate struct {
	policy Policy
}

func NewGate(policy Policy) *Gate {
	return &Gate{policy: policy}
}

// IsEditableByUser returns the policy's answer for the change action as is.
func (g *Gate) IsEditableByUser(user *models.User, instance *models.Media) bool {
	return g.policy.UserHasPermissionForInstance(user, models.ActionChange, instance)
}

// Allowed is the general form used for the other actions.
func (g *Gate) Allowed(user *models.User, action models.Action, instance *models.Media) bool {
	return g.policy.UserHasPermissionForInstance(user, action, instance)
}

// GrantSource loads every collection grant.
type GrantSource interface {
	ListGrants(ctx context.Context) ([]models.Grant, error)
}

// CollectionOwnershipPolicy grants actions per collection subtree. Users
// holding "add" on a collection may also change and delete the records they
// uploaded there.
type CollectionOwnershipPolicy struct {
	source GrantSource

	mu     sync.RWMutex
	grants map[string][]models.Grant
}

func NewCollectionOwnershipPolicy(source GrantSource) *CollectionOwnershipPolicy {
	return &CollectionOwnershipPolicy{source: source, grants: make(map[string][]models.Grant)}
}

// Reload replaces the cached grants with the current ones from the source.
func (p *CollectionOwnershipPolicy) Reload(ctx context.Context) error {
	grants, err := p.source.ListGrants(ctx)
	if err != nil {
		return err
	}
	byUser := make(map[string][]models.Grant)
	for _, g := range grants {
		byUser[g.UserID] = append(byUser[g.UserID], g)
	}
	p.mu.Lock()
	p.grants = byUser
	p.mu.Unlock()
	return nil
}

func (p *CollectionOwnershipPolicy) UserHasPermissionForInstance(user *models.User, action models.Action, instance *models.Media) bool {
	if user == nil || !user.IsActive || instance == nil {
		return false
	}
	if user.IsSuperuser {
		return true
	}

	switch action {
	case models.ActionChange, models.ActionDelete:
		if p.hasGrant(user.ID, models.ActionChange, instance.CollectionPath) {
			return true
		}
		return p.hasGrant(user.ID, models.ActionAdd, instance.CollectionPath) && isOwner(user, instance)
	default:
		return p.hasGrant(user.ID, action, instance.CollectionPath)
	}
}

// UserHasPermission reports whether the user holds action on any collection.
func (p *CollectionOwnershipPolicy) UserHasPermission(user *models.User, action models.Action) bool {
	if user == nil || !user.IsActive {
		return false
	}
	if user.IsSuperuser {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, g := range p.grants[user.ID] {
		if g.Action == action {
			return true
		}
	}
	return false
}

// CollectionsUserHasPermissionFor returns the collection paths whose
// subtrees the user may act on. Superusers get nil, meaning everything.
func (p *CollectionOwnershipPolicy) CollectionsUserHasPermissionFor(user *models.User, action models.Action) []string {
	if user == nil || !user.IsActive {
		return []string{}
	}
	if user.IsSuperuser {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := []string{}
	for _, g := range p.grants[user.ID] {
		if g.Action == action {
			paths = append(paths, g.CollectionPath)
		}
	}
	return paths
}

// UsersWithPermission returns the ids of non-superusers granted action over
// the collection at path.
func (p *CollectionOwnershipPolicy) UsersWithPermission(action models.Action, path string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for userID, grants := range p.grants {
		for _, g := range grants {
			if g.Action == action && models.PathCovers(g.CollectionPath, path) {
				ids = append(ids, userID)
				break
			}
		}
	}
	return ids
}

func (p *CollectionOwnershipPolicy) hasGrant(userID string, action models.Action, path string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, g := range p.grants[userID] {
		if g.Action == action && models.PathCovers(g.CollectionPath, path) {
			return true
		}
	}
	return false
}

func isOwner(user *models.User, instance *models.Media) bool {
	return instance.UploadedByUserID != nil && *instance.UploadedByUserID == user.ID
}
