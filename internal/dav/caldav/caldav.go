// Package caldav implements the CalDAV (RFC 4791)-specific HTTP method
// handlers: GET/HEAD/PUT/DELETE on calendar object resources, MKCALENDAR
// on calendar collections, and REPORT via the shared dispatcher.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/dav/common"
	"github.com/calstack/davcore/internal/multistatus"
	"github.com/calstack/davcore/internal/propres"
	"github.com/calstack/davcore/internal/storage"
	"github.com/calstack/davcore/pkg/ical"
)

// Handlers implements router.DAVService for calendar resources.
type Handlers struct {
	Deps *common.Deps
}

func (h *Handlers) GetCapabilities() string { return "calendar-access" }

func (h *Handlers) resourcePath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, h.Deps.Cfg.HTTP.BasePath)
}

func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.Deps.GetInstance(w, r, h.resourcePath(r), false)
}

func (h *Handlers) HandleHead(w http.ResponseWriter, r *http.Request) {
	h.Deps.GetInstance(w, r, h.resourcePath(r), true)
}

func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.Deps.DeleteInstance(w, r, h.resourcePath(r))
}

func (h *Handlers) HandleMkcol(w http.ResponseWriter, r *http.Request) {
	h.Deps.CreateCollection(w, r, h.resourcePath(r), storage.CollectionPlain)
}

func (h *Handlers) HandleMkcalendar(w http.ResponseWriter, r *http.Request) {
	h.Deps.CreateCollection(w, r, h.resourcePath(r), storage.CollectionCalendar)
}

func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	h.Deps.HandleReport(w, r, h.resourcePath(r))
}

func (h *Handlers) HandleProppatch(w http.ResponseWriter, r *http.Request) {
	h.proppatch(w, r, h.resourcePath(r))
}

// HandlePut implements PUT of a single VEVENT/VTODO/VJOURNAL onto a
// calendar collection (RFC 4791 §5.3.2): validate, normalize, index, and
// commit, rejecting UID collisions with another instance in the same
// collection (RFC 4791 §5.3.2.1 no-uid-conflict).
func (h *Handlers) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourcePath := h.resourcePath(r)
	deps := h.Deps

	res, err := deps.Resolver.Resolve(ctx, resourcePath)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if res.Principal == nil || len(res.Chain) == 0 {
		common.WriteError(w, daverr.ParentMissing())
		return
	}
	collection := res.Chain[len(res.Chain)-1]

	authP, _ := common.CurrentUser(ctx)
	subjects, _, err := deps.Subjects(ctx, authP)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	canonPath, err := common.CollectionCanonicalPath(res)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := deps.Authz.Authorize(ctx, subjects, canonPath, acl.ActionEdit); err != nil {
		common.WriteError(w, err)
		return
	}

	if res.Instance != nil {
		if err := common.CheckIfMatch(r, res.Instance.ETag); err != nil {
			common.WriteError(w, err)
			return
		}
	}

	body, err := common.ReadBody(r, deps.Cfg.HTTP.MaxICSBytes)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	normalized, err := ical.Normalize(body)
	if err != nil {
		common.WriteError(w, daverr.ValidCalendarData(err.Error()))
		return
	}
	cal, err := ical.Decode(normalized)
	if err != nil {
		common.WriteError(w, daverr.ValidCalendarData(err.Error()))
		return
	}
	compName, err := ical.TopLevelComponent(cal)
	if err != nil {
		common.WriteError(w, daverr.ValidCalendarData(err.Error()))
		return
	}

	entityID := uuid.NewString()
	instanceID := uuid.NewString()
	slug := res.ItemFilename + res.ItemExt
	if res.Instance != nil {
		entityID = res.Instance.EntityID
		instanceID = res.Instance.ID
		slug = res.Instance.Slug
	}

	calIdx, err := ical.BuildCalIndex(entityID, cal)
	if err != nil {
		common.WriteError(w, daverr.ValidCalendarData(err.Error()))
		return
	}

	if err := h.checkUIDConflict(ctx, collection.ID, compName, calIdx.UID, entityID); err != nil {
		common.WriteError(w, err)
		return
	}

	etag := ical.ETag(normalized)
	entity := &storage.Entity{ID: entityID, Type: storage.EntityICalendar, UID: calIdx.UID, Data: string(normalized)}
	inst := &storage.Instance{
		ID:           instanceID,
		CollectionID: collection.ID,
		EntityID:     entityID,
		Slug:         slug,
		ContentType:  "text/calendar; charset=utf-8",
		ETag:         etag,
	}
	if err := deps.Store.PutInstance(ctx, inst, entity, calIdx, nil); err != nil {
		common.WriteError(w, daverr.Storage(fmt.Errorf("caldav: put instance: %w", err)))
		return
	}
	if _, err := deps.Store.BumpSyncToken(ctx, collection.ID); err != nil {
		common.WriteError(w, daverr.Storage(fmt.Errorf("caldav: bump sync token: %w", err)))
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", etag))
	if res.Instance != nil {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

// checkUIDConflict enforces RFC 4791 §5.3.2.1: a calendar collection may
// not hold two instances of the same component type sharing a UID.
func (h *Handlers) checkUIDConflict(ctx context.Context, collectionID, compName, uid, entityID string) error {
	existing, err := h.Deps.Store.CalIndexByComponent(ctx, collectionID, []string{compName})
	if err != nil {
		return daverr.Storage(fmt.Errorf("caldav: check uid conflict: %w", err))
	}
	for _, idx := range existing {
		if idx.UID == uid && idx.EntityID != entityID {
			return daverr.NoUidConflict("")
		}
	}
	return nil
}

// proppatch implements PROPPATCH for calendar collections: only
// displayname and calendar-color are writable, everything else is
// reported back as a 403 forbidden propstat.
func (h *Handlers) proppatch(w http.ResponseWriter, r *http.Request, resourcePath string) {
	ctx := r.Context()
	deps := h.Deps

	res, _, err := deps.ResolveAndAuthorize(ctx, r, resourcePath, acl.ActionEdit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if len(res.Chain) == 0 {
		common.WriteError(w, daverr.NotFound(resourcePath))
		return
	}
	collection := res.Chain[len(res.Chain)-1]

	body, err := common.ReadBody(r, deps.Cfg.HTTP.MaxICSBytes)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	updates, err := common.ParsePropertyUpdate(body)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	var okNames, forbidden []propres.QName

	for _, set := range updates.Set {
		switch set.Name.Local {
		case "displayname":
			collection.DisplayName = set.Value
			okNames = append(okNames, set.Name)
		case "calendar-color":
			collection.Color = set.Value
			okNames = append(okNames, set.Name)
		default:
			forbidden = append(forbidden, set.Name)
		}
	}
	for _, rm := range updates.Remove {
		switch rm.Local {
		case "displayname":
			collection.DisplayName = ""
			okNames = append(okNames, rm)
		case "calendar-color":
			collection.Color = ""
			okNames = append(okNames, rm)
		default:
			forbidden = append(forbidden, rm)
		}
	}

	if len(forbidden) > 0 {
		common.WriteMultistatus(w, multistatus.Multistatus{Responses: []multistatus.Response{{
			Href: resourcePath,
			Propstats: []multistatus.PropstatGroup{
				{Status: 403, Names: forbidden},
			},
		}}})
		return
	}

	if err := deps.Store.UpdateCollection(ctx, collection); err != nil {
		common.WriteError(w, daverr.Storage(fmt.Errorf("caldav: update collection: %w", err)))
		return
	}

	common.WriteMultistatus(w, multistatus.Multistatus{Responses: []multistatus.Response{{
		Href:      resourcePath,
		Propstats: []multistatus.PropstatGroup{{Status: 200, Names: okNames}},
	}}})
}
