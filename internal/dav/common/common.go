// Package common holds the plumbing shared by the caldav and carddav
// method handlers: principal/subject resolution, resource-path helpers,
// and typed-error-to-HTTP-response translation.
package common

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/auth"
	"github.com/calstack/davcore/internal/config"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/directory"
	"github.com/calstack/davcore/internal/multistatus"
	"github.com/calstack/davcore/internal/resolver"
	"github.com/calstack/davcore/internal/storage"
)

// Deps bundles everything a method handler needs. One Deps is built per
// server and shared by every caldav/carddav handler.
type Deps struct {
	Cfg      *config.Config
	Store    storage.Store
	Dir      directory.Directory
	Resolver *resolver.Resolver
	Authz    *acl.Authorizer
	Logger   zerolog.Logger
	BaseHref string
}

// CurrentUser reads the authenticated principal the auth chain attached to
// the request context, if any.
func CurrentUser(ctx context.Context) (*auth.Principal, bool) {
	return auth.PrincipalFrom(ctx)
}

// Subjects resolves the authenticated request's full subject set: loading
// or lazily provisioning the request principal's storage.Principal row,
// expanding its storage-tracked group memberships, and merging in the
// LDAP-sourced group CNs the directory reports for this bind.
func (d *Deps) Subjects(ctx context.Context, authP *auth.Principal) ([]acl.Subject, *storage.Principal, error) {
	if authP == nil {
		subs, err := d.Authz.ExpandSubjects(ctx, nil)
		return subs, nil, err
	}

	principal, err := d.Store.GetPrincipalBySlug(ctx, authP.UserID)
	if err != nil && err != storage.ErrNotFound {
		return nil, nil, daverr.Storage(fmt.Errorf("common: load principal: %w", err))
	}
	if principal == nil {
		principal = &storage.Principal{
			ID:          uuid.NewString(),
			Slug:        authP.UserID,
			Type:        storage.PrincipalUser,
			DisplayName: authP.Display,
		}
		if err := d.Store.CreatePrincipal(ctx, principal); err != nil {
			return nil, nil, daverr.Storage(fmt.Errorf("common: create principal: %w", err))
		}
	}

	subjects, err := d.Authz.ExpandSubjects(ctx, principal)
	if err != nil {
		return nil, nil, err
	}

	if d.Dir != nil && authP.UserDN != "" {
		if slugs, err := d.Dir.UserGroupSlugs(ctx, &directory.User{DN: authP.UserDN}); err == nil {
			seen := make(map[acl.Subject]bool, len(subjects))
			for _, s := range subjects {
				seen[s] = true
			}
			for _, slug := range slugs {
				s := acl.SubjectForGroup(slug)
				if !seen[s] {
					seen[s] = true
					subjects = append(subjects, s)
				}
			}
		} else {
			d.Logger.Debug().Err(err).Str("user_dn", authP.UserDN).Msg("LDAP group lookup failed, continuing with storage-only subjects")
		}
	}

	return subjects, principal, nil
}

// Href builds the absolute request-relative href for a path already
// rooted at the configured base path.
func (d *Deps) Href(resourcePath string) string {
	base := strings.TrimSuffix(d.Cfg.HTTP.BasePath, "/")
	return base + resourcePath
}

// ReadBody reads the request body up to limit bytes, returning a typed
// error when the client's payload is over the configured cap.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("common: read body: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, daverr.MaxResourceSize(limit)
	}
	return body, nil
}

// WriteError translates a typed *daverr.Error (or any other error) into an
// HTTP response: a precondition-body document when the error carries one,
// a bare status line otherwise.
func WriteError(w http.ResponseWriter, err error) {
	status := daverr.HTTPStatus(err)
	de, ok := err.(*daverr.Error)
	if ok && de.Precond != nil && de.Precond.Element != "" {
		body, buildErr := multistatus.BuildPreconditionBody(de.Precond)
		if buildErr == nil {
			w.Header().Set("Content-Type", "application/xml; charset=utf-8")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
	}
	http.Error(w, err.Error(), status)
}

// WriteMultistatus serializes and writes a 207 Multi-Status response.
func WriteMultistatus(w http.ResponseWriter, ms multistatus.Multistatus) {
	body, err := multistatus.Build(ms)
	if err != nil {
		http.Error(w, "failed to build multistatus response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(body))
}
