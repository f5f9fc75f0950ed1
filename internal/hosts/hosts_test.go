package hosts

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlock-term/airlock/internal/statedb"
	"github.com/airlock-term/airlock/internal/vault"
)

func newTestInventory(t *testing.T) (*Inventory, *statedb.StateDB) {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return New(db, vault.New(db, "")), db
}

func strPtr(s string) *string { return &s }

func TestAddHostEncryptsPassword(t *testing.T) {
	inv, db := newTestInventory(t)

	h, err := inv.AddHost(HostInput{Name: "web", Host: "10.0.0.1", Port: 22, Username: "root", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, TypeHost, h.Type)
	assert.NotEmpty(t, h.ID)
	assert.NotEmpty(t, h.EncryptedPassword)
	assert.NotContains(t, h.EncryptedPassword, "pw")

	row, err := db.GetHost(h.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, h.EncryptedPassword, row.EncryptedPassword)

	pw, err := inv.DecryptedPassword(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "pw", pw)

	stamp, err := db.LastModified()
	require.NoError(t, err)
	assert.NotZero(t, stamp)
}

func TestAddHostWithoutPassword(t *testing.T) {
	inv, _ := newTestInventory(t)
	h, err := inv.AddHost(HostInput{Name: "key-only", Host: "h", PrivateKeyPath: "~/.ssh/id_ed25519"})
	require.NoError(t, err)
	assert.Empty(t, h.EncryptedPassword)

	pw, err := inv.DecryptedPassword(h.ID)
	require.NoError(t, err)
	assert.Empty(t, pw)

	pw, err = inv.DecryptedPassword("missing")
	require.NoError(t, err)
	assert.Empty(t, pw)
}

func TestDecryptedPasswordUnreadableIsEmpty(t *testing.T) {
	inv, db := newTestInventory(t)
	require.NoError(t, db.SaveHost(&statedb.HostRow{ID: "bad", Name: "bad", Type: TypeHost, EncryptedPassword: "garbage"}))

	pw, err := inv.DecryptedPassword("bad")
	require.NoError(t, err)
	assert.Empty(t, pw)
}

func TestFoldersAndChildren(t *testing.T) {
	inv, _ := newTestInventory(t)

	prod, err := inv.AddFolder("prod", "")
	require.NoError(t, err)
	assert.True(t, prod.IsFolder())

	a, err := inv.AddHost(HostInput{Name: "a", ParentID: prod.ID})
	require.NoError(t, err)
	b, err := inv.AddHost(HostInput{Name: "b", ParentID: prod.ID})
	require.NoError(t, err)
	top, err := inv.AddHost(HostInput{Name: "top"})
	require.NoError(t, err)

	kids, err := inv.Children(prod.ID)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, a.ID, kids[0].ID)
	assert.Equal(t, b.ID, kids[1].ID)

	roots, err := inv.Children("")
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, prod.ID, roots[0].ID)
	assert.Equal(t, top.ID, roots[1].ID)
}

func TestParentMustBeFolder(t *testing.T) {
	inv, _ := newTestInventory(t)
	h, err := inv.AddHost(HostInput{Name: "h"})
	require.NoError(t, err)

	_, err = inv.AddHost(HostInput{Name: "x", ParentID: h.ID})
	assert.ErrorIs(t, err, ErrInvalidParent)
	_, err = inv.AddFolder("f", "nope")
	assert.ErrorIs(t, err, ErrInvalidParent)
}

func TestRemoveIsRecursive(t *testing.T) {
	inv, _ := newTestInventory(t)

	root, _ := inv.AddFolder("root", "")
	sub, _ := inv.AddFolder("sub", root.ID)
	_, _ = inv.AddHost(HostInput{Name: "deep", ParentID: sub.ID})
	_, _ = inv.AddHost(HostInput{Name: "shallow", ParentID: root.ID})
	keep, _ := inv.AddHost(HostInput{Name: "keep"})

	n, err := inv.Remove(root.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	all, err := inv.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)

	n, err = inv.Remove("unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateHost(t *testing.T) {
	inv, _ := newTestInventory(t)
	h, err := inv.AddHost(HostInput{Name: "old", Host: "h1", Port: 22, Password: "one"})
	require.NoError(t, err)

	port := 2222
	ok, err := inv.UpdateHost(h.ID, HostUpdate{Name: strPtr("new"), Port: &port})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := inv.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, 2222, got.Port)
	assert.Equal(t, "h1", got.Host)
	assert.Equal(t, h.EncryptedPassword, got.EncryptedPassword, "password untouched without Password")

	ok, err = inv.UpdateHost(h.ID, HostUpdate{Password: strPtr("two")})
	require.NoError(t, err)
	assert.True(t, ok)
	pw, _ := inv.DecryptedPassword(h.ID)
	assert.Equal(t, "two", pw)

	ok, err = inv.UpdateHost(h.ID, HostUpdate{Password: strPtr("")})
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = inv.Get(h.ID)
	assert.Empty(t, got.EncryptedPassword)

	ok, err = inv.UpdateHost("missing", HostUpdate{Name: strPtr("x")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateHostRejectsSelfParent(t *testing.T) {
	inv, _ := newTestInventory(t)
	f, _ := inv.AddFolder("f", "")
	_, err := inv.UpdateHost(f.ID, HostUpdate{ParentID: strPtr(f.ID)})
	assert.ErrorIs(t, err, ErrInvalidParent)
}

func TestUpdateFolderOnlyRenamesFolders(t *testing.T) {
	inv, _ := newTestInventory(t)
	f, _ := inv.AddFolder("f", "")
	h, _ := inv.AddHost(HostInput{Name: "h"})

	ok, err := inv.UpdateFolder(f.ID, "renamed")
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := inv.Get(f.ID)
	assert.Equal(t, "renamed", got.Name)

	ok, err = inv.UpdateFolder(h.ID, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ = inv.Get(h.ID)
	assert.Equal(t, "h", got.Name)
}

func TestGetUnknown(t *testing.T) {
	inv, _ := newTestInventory(t)
	_, err := inv.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReplaceAll(t *testing.T) {
	inv, _ := newTestInventory(t)
	_, _ = inv.AddHost(HostInput{Name: "gone"})

	err := inv.ReplaceAll([]Host{
		{ID: "f1", Name: "folder", Type: TypeFolder},
		{ID: "h1", Name: "one", ParentID: "f1", Host: "1.1.1.1"},
		{ID: "h2", Name: "two", Type: TypeHost},
	})
	require.NoError(t, err)

	all, err := inv.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"f1", "h1", "h2"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, TypeHost, all[1].Type, "missing type defaults to host")
}

func TestSearch(t *testing.T) {
	inv, _ := newTestInventory(t)
	_, _ = inv.AddFolder("production", "")
	_, _ = inv.AddHost(HostInput{Name: "prod-db", Host: "db.internal", Username: "admin"})
	_, _ = inv.AddHost(HostInput{Name: "staging-web", Host: "web.staging", Username: "deploy"})

	all, err := inv.Search("")
	require.NoError(t, err)
	assert.Len(t, all, 2, "folders are not search results")

	res, err := inv.Search("proddb")
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "prod-db", res[0].Name)

	res, err = inv.Search("deploy")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, strings.HasPrefix(res[0].Name, "staging"))

	res, err = inv.Search("zzzz")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestPortableRoundTripAcrossKeys(t *testing.T) {
	src, _ := newTestInventory(t)
	f, _ := src.AddFolder("f", "")
	h, err := src.AddHost(HostInput{Name: "h", ParentID: f.ID, Host: "x", Password: "secret"})
	require.NoError(t, err)

	items, err := src.Portable()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "secret", items[1].Password)
	assert.Empty(t, items[1].EncryptedPassword)

	dst, _ := newTestInventory(t)
	require.NoError(t, dst.RestorePortable(items))

	pw, err := dst.DecryptedPassword(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)
	got, err := dst.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ParentID)
}
