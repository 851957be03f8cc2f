// Package acl implements the path-glob authorization core: the
// role-to-privilege lattice, policy-line glob matcher, and subject
// expansion for CalDAV/CardDAV access control.
package acl

// Action is a single operation being authorized.
type Action string

const (
	ActionReadFreebusy Action = "read_freebusy"
	ActionRead         Action = "read"
	ActionEdit         Action = "edit"
	ActionDelete       Action = "delete"
	ActionShareRead    Action = "share_read"
	ActionShareEdit    Action = "share_edit"
	ActionAdmin        Action = "admin"
)

// Role is a named point in the fixed lattice:
// ReaderFreebusy ⊂ Reader ⊂ EditorBasic ⊂ Editor ⊂ ShareManager ⊂ Owner.
type Role string

const (
	RoleReaderFreebusy Role = "ReaderFreebusy"
	RoleReader         Role = "Reader"
	RoleEditorBasic    Role = "EditorBasic"
	RoleEditor         Role = "Editor"
	RoleShareManager   Role = "ShareManager"
	RoleOwner          Role = "Owner"
)

// roleOrder lists every role from least to most privileged; each role's
// action set is the union of every role at or before it in this list,
// implementing the lattice's subset relation as monotonic accumulation.
var roleOrder = []Role{
	RoleReaderFreebusy, RoleReader, RoleEditorBasic, RoleEditor, RoleShareManager, RoleOwner,
}

// roleOwnActions lists the actions a role ADDS over its predecessor in
// roleOrder: {read_freebusy} → {+read} → {+edit} → {+delete} →
// {+share_read,+share_edit} → {+admin}.
var roleOwnActions = map[Role][]Action{
	RoleReaderFreebusy: {ActionReadFreebusy},
	RoleReader:         {ActionRead},
	RoleEditorBasic:    {ActionEdit},
	RoleEditor:         {ActionDelete},
	RoleShareManager:   {ActionShareRead, ActionShareEdit},
	RoleOwner:          {ActionAdmin},
}

// rank is roleOrder's index lookup, used to build the cumulative action set.
var rank = func() map[Role]int {
	m := make(map[Role]int, len(roleOrder))
	for i, r := range roleOrder {
		m[r] = i
	}
	return m
}()

// Allows reports whether role grants action, per the cumulative lattice:
// a role at rank n allows every action owned by roles at rank ≤ n.
func (r Role) Allows(a Action) bool {
	n, ok := rank[r]
	if !ok {
		return false
	}
	for i := 0; i <= n; i++ {
		for _, own := range roleOwnActions[roleOrder[i]] {
			if own == a {
				return true
			}
		}
	}
	return false
}

// probeOrder is the descending order §4.3 mandates for resolving
// current-user-privilege-set: "Probe in order Admin, Edit, Read,
// ReadFreebusy; first allowed level is reported."
var probeOrder = []struct {
	Role   Role
	Action Action
}{
	{RoleOwner, ActionAdmin},
	{RoleEditorBasic, ActionEdit},
	{RoleReader, ActionRead},
	{RoleReaderFreebusy, ActionReadFreebusy},
}

// HighestAllowed returns the highest role in the probe order for which
// allowed(role's characteristic action) is true, via the allowed callback.
func HighestAllowed(allowed func(Action) bool) (Role, bool) {
	for _, p := range probeOrder {
		if allowed(p.Action) {
			return p.Role, true
		}
	}
	return "", false
}

// EffectivePrivileges returns every action granted across all roles held
// by a subject — an explicit alternative to reporting only the single
// probe-highest role, with an equivalent wire contract.
func EffectivePrivileges(grantedRoles []Role) []Action {
	seen := make(map[Action]bool)
	var out []Action
	for _, role := range grantedRoles {
		n, ok := rank[role]
		if !ok {
			continue
		}
		for i := 0; i <= n; i++ {
			for _, a := range roleOwnActions[roleOrder[i]] {
				if !seen[a] {
					seen[a] = true
					out = append(out, a)
				}
			}
		}
	}
	return out
}
