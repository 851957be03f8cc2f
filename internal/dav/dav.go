// Package dav assembles the per-service method handlers (caldav, carddav)
// behind the shared dependencies (dav/common) and exposes the handful of
// methods that are identical across both services: PROPFIND, OPTIONS, and
// the RFC 6764 well-known discovery redirects.
package dav

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/auth"
	"github.com/calstack/davcore/internal/config"
	"github.com/calstack/davcore/internal/dav/caldav"
	"github.com/calstack/davcore/internal/dav/carddav"
	"github.com/calstack/davcore/internal/dav/common"
	"github.com/calstack/davcore/internal/directory"
	"github.com/calstack/davcore/internal/resolver"
	"github.com/calstack/davcore/internal/storage"
)

// Handlers is the top-level handler aggregator router.New wires up: the
// per-service handler sets plus the methods common to every DAV resource.
type Handlers struct {
	deps *common.Deps

	CalDAVHandlers  caldav.Handlers
	CardDAVHandlers carddav.Handlers
}

func NewHandlers(cfg *config.Config, store storage.Store, dir directory.Directory, authn *auth.Chain, logger zerolog.Logger) *Handlers {
	deps := &common.Deps{
		Cfg:      cfg,
		Store:    store,
		Dir:      dir,
		Resolver: resolver.New(store),
		Authz:    acl.NewAuthorizer(store),
		Logger:   logger,
		BaseHref: strings.TrimSuffix(cfg.HTTP.BasePath, "/"),
	}
	return &Handlers{
		deps:            deps,
		CalDAVHandlers:  caldav.Handlers{Deps: deps},
		CardDAVHandlers: carddav.Handlers{Deps: deps},
	}
}

// HandleWellKnown implements the RFC 6764 §5 discovery redirect: a
// well-known CalDAV/CardDAV request is redirected to the server's
// configured DAV root.
func (h *Handlers) HandleWellKnown(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.deps.Cfg.HTTP.BasePath+"/", http.StatusMovedPermanently)
}

// HandleOptions answers the capability probe every DAV client issues
// before its first real request.
func (h *Handlers) HandleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "OPTIONS, PROPFIND, PROPPATCH, REPORT, GET, HEAD, PUT, DELETE, MKCOL, MKCALENDAR")
	w.WriteHeader(http.StatusOK)
}

// HandlePropfind is shared by both services: resource resolution,
// authorization, and property resolution are all service-agnostic.
func (h *Handlers) HandlePropfind(w http.ResponseWriter, r *http.Request) {
	resourcePath := strings.TrimPrefix(r.URL.Path, h.deps.Cfg.HTTP.BasePath)
	h.deps.Propfind(w, r, resourcePath)
}
