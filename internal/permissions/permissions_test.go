package permissions_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPolicy struct {
	answer bool
	calls  []models.Action
}

func (s *stubPolicy) UserHasPermissionForInstance(_ *models.User, action models.Action, _ *models.Media) bool {
	s.calls = append(s.calls, action)
	return s.answer
}

func TestGateForwardsPolicyAnswer(t *testing.T) {
	for _, answer := range []bool{true, false} {
		policy := &stubPolicy{answer: answer}
		gate := permissions.NewGate(policy)
		got := gate.IsEditableByUser(&models.User{ID: "u1"}, &models.Media{ID: 1})
		assert.Equal(t, answer, got)
		assert.Equal(t, []models.Action{models.ActionChange}, policy.calls)
	}
}

type grantList []models.Grant

func (g grantList) ListGrants(context.Context) ([]models.Grant, error) { return g, nil }

type failingSource struct{}

func (failingSource) ListGrants(context.Context) ([]models.Grant, error) {
	return nil, errors.New("db down")
}

func ptr(s string) *string { return &s }

func TestCollectionOwnershipPolicy(t *testing.T) {
	grants := grantList{
		{UserID: "editor", CollectionPath: "0001", Action: models.ActionChange},
		{UserID: "contributor", CollectionPath: "00010002", Action: models.ActionAdd},
		{UserID: "chooser", CollectionPath: "0001", Action: models.ActionChoose},
	}
	policy := permissions.NewCollectionOwnershipPolicy(grants)
	require.NoError(t, policy.Reload(context.Background()))

	inMusic := &models.Media{ID: 1, CollectionPath: "00010002", UploadedByUserID: ptr("contributor")}
	notTheirs := &models.Media{ID: 2, CollectionPath: "00010002", UploadedByUserID: ptr("someone")}
	elsewhere := &models.Media{ID: 3, CollectionPath: "00010003", UploadedByUserID: ptr("contributor")}

	editor := &models.User{ID: "editor", IsActive: true}
	contributor := &models.User{ID: "contributor", IsActive: true}
	admin := &models.User{ID: "admin", IsActive: true, IsSuperuser: true}
	inactive := &models.User{ID: "editor", IsActive: false}

	assert.True(t, policy.UserHasPermissionForInstance(editor, models.ActionChange, notTheirs))
	assert.True(t, policy.UserHasPermissionForInstance(editor, models.ActionDelete, elsewhere))
	assert.True(t, policy.UserHasPermissionForInstance(contributor, models.ActionChange, inMusic))
	assert.False(t, policy.UserHasPermissionForInstance(contributor, models.ActionChange, notTheirs))
	assert.False(t, policy.UserHasPermissionForInstance(contributor, models.ActionChange, elsewhere))
	assert.True(t, policy.UserHasPermissionForInstance(admin, models.ActionDelete, notTheirs))
	assert.False(t, policy.UserHasPermissionForInstance(inactive, models.ActionChange, notTheirs))
	assert.False(t, policy.UserHasPermissionForInstance(nil, models.ActionChange, notTheirs))
	assert.True(t, policy.UserHasPermissionForInstance(&models.User{ID: "chooser", IsActive: true}, models.ActionChoose, elsewhere))

	assert.True(t, policy.UserHasPermission(contributor, models.ActionAdd))
	assert.False(t, policy.UserHasPermission(contributor, models.ActionChange))
	assert.Nil(t, policy.CollectionsUserHasPermissionFor(admin, models.ActionChange))
	assert.Equal(t, []string{"00010002"}, policy.CollectionsUserHasPermissionFor(contributor, models.ActionAdd))

	users := policy.UsersWithPermission(models.ActionAdd, "000100020001")
	sort.Strings(users)
	assert.Equal(t, []string{"contributor"}, users)
}

func TestReloadKeepsGrantsOnError(t *testing.T) {
	policy := permissions.NewCollectionOwnershipPolicy(failingSource{})
	assert.Error(t, policy.Reload(context.Background()))
	assert.False(t, policy.UserHasPermission(&models.User{ID: "x", IsActive: true}, models.ActionAdd))
}
