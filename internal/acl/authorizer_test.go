package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/storage"
)

// fakeStore implements just enough of storage.Store for authorizer tests:
// group membership and policy-line lookup. Every other method panics if
// called, since Authorizer never reaches them.
type fakeStore struct {
	storage.Store
	groups  map[string][]string
	lines   []storage.PolicyLine
}

func (f *fakeStore) GroupsForPrincipal(_ context.Context, principalID string) ([]string, error) {
	return f.groups[principalID], nil
}

func (f *fakeStore) PolicyLinesForSubjects(_ context.Context, subjects []string) ([]storage.PolicyLine, error) {
	want := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		want[s] = true
	}
	var out []storage.PolicyLine
	for _, l := range f.lines {
		if want[l.Subject] {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestAuthorizer_ExpandSubjects(t *testing.T) {
	store := &fakeStore{groups: map[string][]string{"p1": {"staff", "admins"}}}
	a := NewAuthorizer(store)

	subjects, err := a.ExpandSubjects(context.Background(), &storage.Principal{ID: "p1", Slug: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []Subject{
		principalSubject("alice"),
		principalSubject("staff"),
		principalSubject("admins"),
	}, subjects)

	anon, err := a.ExpandSubjects(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []Subject{Public}, anon)
}

func TestAuthorizer_Authorize(t *testing.T) {
	store := &fakeStore{
		lines: []storage.PolicyLine{
			{Subject: "principal:alice", Pattern: "/calendars/alice/**", Role: string(RoleOwner)},
			{Subject: "principal:staff", Pattern: "/calendars/alice/shared", Role: string(RoleReader)},
			{Subject: "public", Pattern: "/calendars/alice/public", Role: string(RoleReaderFreebusy)},
		},
	}
	a := NewAuthorizer(store)

	t.Run("owner may edit own calendar", func(t *testing.T) {
		err := a.Authorize(context.Background(), []Subject{principalSubject("alice")}, "/calendars/alice/work", ActionEdit)
		assert.NoError(t, err)
	})

	t.Run("reader group may read shared calendar but not edit", func(t *testing.T) {
		err := a.Authorize(context.Background(), []Subject{principalSubject("staff")}, "/calendars/alice/shared", ActionRead)
		assert.NoError(t, err)

		err = a.Authorize(context.Background(), []Subject{principalSubject("staff")}, "/calendars/alice/shared", ActionEdit)
		require.Error(t, err)
		var de *daverr.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, daverr.KindUnauthorized, de.Kind)
	})

	t.Run("unmatched resource denies", func(t *testing.T) {
		err := a.Authorize(context.Background(), []Subject{principalSubject("bob")}, "/calendars/alice/work", ActionRead)
		require.Error(t, err)
	})

	t.Run("public probe-only freebusy", func(t *testing.T) {
		err := a.Authorize(context.Background(), []Subject{Public}, "/calendars/alice/public", ActionReadFreebusy)
		assert.NoError(t, err)

		err = a.Authorize(context.Background(), []Subject{Public}, "/calendars/alice/public", ActionRead)
		assert.Error(t, err)
	})
}

func TestAuthorizer_CurrentUserPrivilegeSet(t *testing.T) {
	store := &fakeStore{
		lines: []storage.PolicyLine{
			{Subject: "principal:alice", Pattern: "/calendars/alice/**", Role: string(RoleEditorBasic)},
		},
	}
	a := NewAuthorizer(store)

	role, ok, err := a.CurrentUserPrivilegeSet(context.Background(), []Subject{principalSubject("alice")}, "/calendars/alice/work")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, RoleEditorBasic, role)

	_, ok, err = a.CurrentUserPrivilegeSet(context.Background(), []Subject{principalSubject("nobody")}, "/calendars/alice/work")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizer_EffectivePrivilegeSet(t *testing.T) {
	store := &fakeStore{
		lines: []storage.PolicyLine{
			{Subject: "principal:alice", Pattern: "/calendars/alice/**", Role: string(RoleShareManager)},
		},
	}
	a := NewAuthorizer(store)

	privs, err := a.EffectivePrivilegeSet(context.Background(), []Subject{principalSubject("alice")}, "/calendars/alice/work")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Action{
		ActionReadFreebusy, ActionRead, ActionEdit, ActionDelete, ActionShareRead, ActionShareEdit,
	}, privs)
}
