package models

import (
	"fmt"
	"strings"
	"time"
)

// PathStepLength is the width of one materialised path segment.
const PathStepLength = 4

// RootCollectionID is created by the first migration.
const RootCollectionID int64 = 1

// Collection is a node in the collection tree. Path holds one fixed-width
// segment per level, so "00010003" is the third child of the root.
type Collection struct {
	ID    int64
	Name  string
	Path  string
	Depth int
}

// IsAncestorOrSelf reports whether c is path or one of its ancestors.
func (c Collection) IsAncestorOrSelf(path string) bool {
	return PathCovers(c.Path, path)
}

// PathCovers reports whether ancestor equals path or is a prefix of it on a
// segment boundary.
func PathCovers(ancestor, path string) bool {
	if ancestor == "" || len(ancestor)%PathStepLength != 0 {
		return false
	}
	return strings.HasPrefix(path, ancestor)
}

// ChildPath returns the path of the n-th (1-based) child of parent.
func ChildPath(parent string, n int) (string, error) {
	if n <= 0 || n > 9999 {
		return "", fmt.Errorf("collection child index %d out of range", n)
	}
	return fmt.Sprintf("%s%0*d", parent, PathStepLength, n), nil
}

// User is the account a record may be uploaded by.
type User struct {
	ID          string
	Username    string
	IsActive    bool
	IsSuperuser bool
	DateJoined  time.Time
}

// Action is a permission verb.
type Action string

const (
	ActionAdd    Action = "add"
	ActionChange Action = "change"
	ActionDelete Action = "delete"
	ActionChoose Action = "choose"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionChange, ActionDelete, ActionChoose:
		return true
	}
	return false
}

// Grant gives a user an action on a collection and its descendants.
type Grant struct {
	UserID         string
	CollectionID   int64
	CollectionPath string
	Action         Action
}

// Reference records one place where host content uses a media item.
type Reference struct {
	MediaID    int64  `json:"media_id"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Field      string `json:"field"`
	Label      string `json:"label"`
}
