package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Allows_Cumulative(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleReaderFreebusy, ActionReadFreebusy, true},
		{RoleReaderFreebusy, ActionRead, false},
		{RoleReader, ActionReadFreebusy, true},
		{RoleReader, ActionRead, true},
		{RoleReader, ActionEdit, false},
		{RoleEditorBasic, ActionEdit, true},
		{RoleEditorBasic, ActionDelete, false},
		{RoleEditor, ActionDelete, true},
		{RoleEditor, ActionShareRead, false},
		{RoleShareManager, ActionShareRead, true},
		{RoleShareManager, ActionShareEdit, true},
		{RoleShareManager, ActionAdmin, false},
		{RoleOwner, ActionAdmin, true},
		{RoleOwner, ActionReadFreebusy, true},
		{Role("Bogus"), ActionRead, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.Allows(tt.action), "%s.Allows(%s)", tt.role, tt.action)
	}
}

func TestHighestAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed map[Action]bool
		want    Role
		wantOk  bool
	}{
		{
			name:    "admin wins over everything",
			allowed: map[Action]bool{ActionAdmin: true, ActionRead: true},
			want:    RoleOwner,
			wantOk:  true,
		},
		{
			name:    "edit without admin",
			allowed: map[Action]bool{ActionEdit: true, ActionReadFreebusy: true},
			want:    RoleEditorBasic,
			wantOk:  true,
		},
		{
			name:    "only freebusy",
			allowed: map[Action]bool{ActionReadFreebusy: true},
			want:    RoleReaderFreebusy,
			wantOk:  true,
		},
		{
			name:    "nothing allowed",
			allowed: map[Action]bool{},
			want:    "",
			wantOk:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HighestAllowed(func(a Action) bool { return tt.allowed[a] })
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectivePrivileges(t *testing.T) {
	privs := EffectivePrivileges([]Role{RoleEditorBasic})
	assert.ElementsMatch(t, []Action{ActionReadFreebusy, ActionRead, ActionEdit}, privs)

	privs = EffectivePrivileges([]Role{RoleReaderFreebusy, RoleShareManager})
	assert.ElementsMatch(t, []Action{
		ActionReadFreebusy, ActionRead, ActionEdit, ActionDelete, ActionShareRead, ActionShareEdit,
	}, privs)

	assert.Empty(t, EffectivePrivileges(nil))
}
