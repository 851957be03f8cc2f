package acl

import (
	"context"
	"fmt"

	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/storage"
)

// Subject identifies who is making a request: a principal's expanded
// identity plus "public" when anonymous.
type Subject string

const Public Subject = "public"

func principalSubject(slug string) Subject { return Subject("principal:" + slug) }

// SubjectForGroup exposes principalSubject's formatting to callers outside
// this package — notably the LDAP-fed principal resolution in
// internal/dav/common, which merges externally-sourced group membership
// into a request's subject set without duplicating the "principal:" prefix
// convention.
func SubjectForGroup(slug string) Subject { return principalSubject(slug) }

// Authorizer evaluates (subject, resource_path, action) decisions against
// the policy lines stored for the expanded subject set.
type Authorizer struct {
	store storage.Store
}

func NewAuthorizer(store storage.Store) *Authorizer {
	return &Authorizer{store: store}
}

// ExpandSubjects computes the subject set for a principal: the principal
// itself plus every group GroupsForPrincipal lists for it, or just "public"
// when the request is anonymous (principal == nil). Only the groups stored
// directly against the principal are added; groups of those groups are not
// followed.
func (a *Authorizer) ExpandSubjects(ctx context.Context, principal *storage.Principal) ([]Subject, error) {
	if principal == nil {
		return []Subject{Public}, nil
	}
	subjects := []Subject{principalSubject(principal.Slug)}
	groupSlugs, err := a.store.GroupsForPrincipal(ctx, principal.ID)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("acl: group lookup: %w", err))
	}
	for _, g := range groupSlugs {
		subjects = append(subjects, principalSubject(g))
	}
	return subjects, nil
}

// rolesFor returns, for the given expanded subjects and resource path,
// every Role granted by a matching policy line.
func (a *Authorizer) rolesFor(ctx context.Context, subjects []Subject, resourcePath string) ([]Role, error) {
	strs := make([]string, len(subjects))
	for i, s := range subjects {
		strs[i] = string(s)
	}
	lines, err := a.store.PolicyLinesForSubjects(ctx, strs)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("acl: policy lookup: %w", err))
	}
	var roles []Role
	for _, line := range lines {
		if MatchPattern(line.Pattern, resourcePath) {
			roles = append(roles, Role(line.Role))
		}
	}
	return roles, nil
}

// Authorize allows the action if any matching policy line's role grants
// it, else returns a typed error carrying the needs-privilege precondition
// body.
func (a *Authorizer) Authorize(ctx context.Context, subjects []Subject, resourcePath string, action Action) error {
	roles, err := a.rolesFor(ctx, subjects, resourcePath)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if r.Allows(action) {
			return nil
		}
	}
	return daverr.NeedsPrivilege(resourcePath)
}

// CurrentUserPrivilegeSet resolves the probe-highest role for a resource:
// it probes in order Admin, Edit, Read, ReadFreebusy and reports the first
// allowed level.
func (a *Authorizer) CurrentUserPrivilegeSet(ctx context.Context, subjects []Subject, resourcePath string) (Role, bool, error) {
	roles, err := a.rolesFor(ctx, subjects, resourcePath)
	if err != nil {
		return "", false, err
	}
	granted := make(map[Role]bool, len(roles))
	for _, r := range roles {
		granted[r] = true
	}
	highest, ok := HighestAllowed(func(a Action) bool {
		for r := range granted {
			if r.Allows(a) {
				return true
			}
		}
		return false
	})
	return highest, ok, nil
}

// EffectivePrivilegeSet resolves the full granted action set for a
// resource — the explicit alternative to reporting only the probe-highest
// role.
func (a *Authorizer) EffectivePrivilegeSet(ctx context.Context, subjects []Subject, resourcePath string) ([]Action, error) {
	roles, err := a.rolesFor(ctx, subjects, resourcePath)
	if err != nil {
		return nil, err
	}
	return EffectivePrivileges(roles), nil
}
