package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/principal"
	"github.com/hitoshi/crmadmin/internal/repository/memory"
)

func newTestDatabases(t *testing.T) *DatabaseService {
	t.Helper()
	store := memory.NewStore()
	svc := NewDatabaseService(store.Documents(), store.Attributes(), DatabaseServiceConfig{})
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc
}

func as(userID string) context.Context {
	return principal.WithUserID(context.Background(), userID)
}

func TestCreateDocument_DefaultsOwnerPermissionsAndID(t *testing.T) {
	svc := newTestDatabases(t)

	doc, err := svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{
		"name": "Alice",
		"$id":  "ignored",
	}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.NotEqual(t, UniqueID, doc.ID)
	assert.Equal(t, model.OwnerPermissions("ann"), doc.Permissions)
	assert.Equal(t, "Alice", doc.Data["name"])
	_, hasSystem := doc.Data["$id"]
	assert.False(t, hasSystem, "system fields must be stripped from data")
}

func TestCreateDocument_RequiresCaller(t *testing.T) {
	svc := newTestDatabases(t)

	_, err := svc.CreateDocument(context.Background(), "crm", "contacts", UniqueID, map[string]any{"name": "x"}, nil)
	assert.Equal(t, model.ErrCodeUnauthorized, model.ErrorCode(err))
}

func TestCreateDocument_RejectsForeignGrant(t *testing.T) {
	svc := newTestDatabases(t)

	_, err := svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x"},
		[]string{model.Permission(model.ActionRead, model.UserRole("bob"))})
	assert.Equal(t, model.ErrCodeForbidden, model.ErrorCode(err))

	_, err = svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x"},
		[]string{"garbage"})
	assert.Equal(t, model.ErrCodeInvalidRequest, model.ErrorCode(err))
}

func TestCreateDocument_DuplicateID(t *testing.T) {
	svc := newTestDatabases(t)

	_, err := svc.CreateDocument(as("ann"), "crm", "contacts", "fixed", map[string]any{"name": "x"}, nil)
	require.NoError(t, err)
	_, err = svc.CreateDocument(as("ann"), "crm", "contacts", "fixed", map[string]any{"name": "y"}, nil)
	assert.Equal(t, model.ErrCodeDocumentInvalidStructure, model.ErrorCode(err))
}

func TestCreateDocument_ValidatesRequiredAttribute(t *testing.T) {
	svc := newTestDatabases(t)

	_, err := svc.CreateStringAttribute(as("ann"), "crm", "contacts", "userId", 255, true)
	require.NoError(t, err)

	_, err = svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x"}, nil)
	assert.Equal(t, model.ErrCodeDocumentInvalidStructure, model.ErrorCode(err))

	_, err = svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x", "userId": "ann"}, nil)
	assert.NoError(t, err)
}

func TestCreateStringAttribute_AlreadyExists(t *testing.T) {
	svc := newTestDatabases(t)

	_, err := svc.CreateStringAttribute(as("ann"), "crm", "contacts", "userId", 255, true)
	require.NoError(t, err)
	_, err = svc.CreateStringAttribute(as("bob"), "crm", "contacts", "userId", 255, true)
	assert.Equal(t, model.ErrCodeAttributeAlreadyExists, model.ErrorCode(err))

	_, err = svc.CreateStringAttribute(as("ann"), "crm", "contacts", "$id", 10, false)
	assert.Equal(t, model.ErrCodeInvalidRequest, model.ErrorCode(err))

	_, err = svc.CreateStringAttribute(context.Background(), "crm", "contacts", "other", 10, false)
	assert.Equal(t, model.ErrCodeUnauthorized, model.ErrorCode(err))
}

func TestGetDocument_HidesOtherUsersDocuments(t *testing.T) {
	svc := newTestDatabases(t)

	doc, err := svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x"}, nil)
	require.NoError(t, err)

	got, err := svc.GetDocument(as("ann"), "crm", "contacts", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = svc.GetDocument(as("bob"), "crm", "contacts", doc.ID)
	assert.Equal(t, model.ErrCodeDocumentNotFound, model.ErrorCode(err))

	_, err = svc.GetDocument(as("ann"), "crm", "contacts", "missing")
	assert.Equal(t, model.ErrCodeDocumentNotFound, model.ErrorCode(err))
}

func TestListDocuments_OnlyReadableAndDefaultLimit(t *testing.T) {
	svc := newTestDatabases(t)

	for i := 0; i < 30; i++ {
		_, err := svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"userId": "ann"}, nil)
		require.NoError(t, err)
	}
	_, err := svc.CreateDocument(as("bob"), "crm", "contacts", UniqueID, map[string]any{"userId": "bob"}, nil)
	require.NoError(t, err)

	list, err := svc.ListDocuments(as("ann"), "crm", "contacts", model.DocumentQuery{})
	require.NoError(t, err)
	assert.Equal(t, 30, list.Total)
	assert.Len(t, list.Documents, DefaultListLimit)

	list, err = svc.ListDocuments(as("bob"), "crm", "contacts", model.DocumentQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestUpdateDocument_MergesAndChecksPermission(t *testing.T) {
	svc := newTestDatabases(t)

	shared := []string{
		model.Permission(model.ActionRead, model.RoleUsers),
		model.Permission(model.ActionUpdate, model.UserRole("ann")),
		model.Permission(model.ActionDelete, model.UserRole("ann")),
	}
	doc, err := svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x", "phone": "1"}, shared)
	require.NoError(t, err)

	updated, err := svc.UpdateDocument(as("ann"), "crm", "contacts", doc.ID, map[string]any{"name": "y"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "y", updated.Data["name"])
	assert.Equal(t, "1", updated.Data["phone"])
	assert.Equal(t, shared, updated.Permissions)

	// bob は読み取りできるが更新・削除はできない
	_, err = svc.UpdateDocument(as("bob"), "crm", "contacts", doc.ID, map[string]any{"name": "z"}, nil)
	assert.Equal(t, model.ErrCodeForbidden, model.ErrorCode(err))
	err = svc.DeleteDocument(as("bob"), "crm", "contacts", doc.ID)
	assert.Equal(t, model.ErrCodeForbidden, model.ErrorCode(err))

	// 読み取りもできないユーザーには存在を隠す
	_, err = svc.UpdateDocument(as(""), "crm", "contacts", doc.ID, map[string]any{"name": "z"}, nil)
	assert.Equal(t, model.ErrCodeDocumentNotFound, model.ErrorCode(err))
}

func TestDeleteDocument_ThenGetIsNotFound(t *testing.T) {
	svc := newTestDatabases(t)

	doc, err := svc.CreateDocument(as("ann"), "crm", "contacts", UniqueID, map[string]any{"name": "x"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(as("ann"), "crm", "contacts", doc.ID))

	_, err = svc.GetDocument(as("ann"), "crm", "contacts", doc.ID)
	assert.Equal(t, model.ErrCodeDocumentNotFound, model.ErrorCode(err))

	err = svc.DeleteDocument(as("ann"), "crm", "contacts", doc.ID)
	assert.Equal(t, model.ErrCodeDocumentNotFound, model.ErrorCode(err))
}
