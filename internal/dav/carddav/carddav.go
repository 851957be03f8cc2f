// Package carddav implements the CardDAV (RFC 6352)-specific HTTP method
// handlers: GET/HEAD/PUT/DELETE on address object resources, addressbook
// collection creation, and REPORT via the shared dispatcher.
package carddav

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
	"github.com/calstack/davcore/pkg/vcard"
)

// Handlers implements router.DAVService for addressbook resources.
type Handlers struct {
	Deps *common.Deps
}

func (h *Handlers) GetCapabilities() string { return "addressbook" }

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
	h.Deps.CreateCollection(w, r, h.resourcePath(r), storage.CollectionAddressbook)
}

// HandleMkcalendar has no CardDAV equivalent; addressbook collections are
// created via MKCOL with a resourcetype extension (RFC 6352 §5.2), never
// MKCALENDAR. The router sends MKCALENDAR requests on addressbook paths
// here, and this method always answers 405 Method Not Allowed.
func (h *Handlers) HandleMkcalendar(w http.ResponseWriter, r *http.Request) {
	common.WriteError(w, daverr.MethodNotAllowed("MKCALENDAR is not valid on an addressbook collection"))
}

func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	h.Deps.HandleReport(w, r, h.resourcePath(r))
}

func (h *Handlers) HandleProppatch(w http.ResponseWriter, r *http.Request) {
	h.proppatch(w, r, h.resourcePath(r))
}

// HandlePut implements PUT of a single vCard onto an addressbook
// collection (RFC 6352 §6.3.2): validate, normalize, index, and commit,
// rejecting UID collisions with another card in the same collection.
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

	body, err := common.ReadBody(r, deps.Cfg.HTTP.MaxVCFBytes)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	normalized, err := vcard.Normalize(body, "")
	if err != nil {
		common.WriteError(w, daverr.ValidAddressData(err.Error()))
		return
	}
	cards, err := vcard.Decode(normalized)
	if err != nil {
		common.WriteError(w, daverr.ValidAddressData(err.Error()))
		return
	}
	if len(cards) != 1 {
		common.WriteError(w, daverr.ValidAddressData("exactly one vCard is required per address object resource"))
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

	cardIdx := vcard.BuildCardIndex(entityID, cards[0])

	if err := h.checkUIDConflict(ctx, collection.ID, cardIdx.UID, entityID); err != nil {
		common.WriteError(w, err)
		return
	}

	etag := vcard.ETag(normalized)
	entity := &storage.Entity{ID: entityID, Type: storage.EntityVCard, UID: cardIdx.UID, Data: string(normalized)}
	inst := &storage.Instance{
		ID:           instanceID,
		CollectionID: collection.ID,
		EntityID:     entityID,
		Slug:         slug,
		ContentType:  "text/vcard; charset=utf-8",
		ETag:         etag,
	}
	if err := deps.Store.PutInstance(ctx, inst, entity, nil, cardIdx); err != nil {
		common.WriteError(w, daverr.Storage(fmt.Errorf("carddav: put instance: %w", err)))
		return
	}
	if _, err := deps.Store.BumpSyncToken(ctx, collection.ID); err != nil {
		common.WriteError(w, daverr.Storage(fmt.Errorf("carddav: bump sync token: %w", err)))
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", etag))
	if res.Instance != nil {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

// checkUIDConflict enforces RFC 6352 §6.3.2.1: an addressbook collection
// may not hold two cards sharing a UID.
func (h *Handlers) checkUIDConflict(ctx context.Context, collectionID, uid, entityID string) error {
	existing, err := h.Deps.Store.CardIndexAll(ctx, collectionID)
	if err != nil {
		return daverr.Storage(fmt.Errorf("carddav: check uid conflict: %w", err))
	}
	for _, idx := range existing {
		if idx.UID == uid && idx.EntityID != entityID {
			return daverr.NoUidConflict("")
		}
	}
	return nil
}

// proppatch implements PROPPATCH for addressbook collections: only
// displayname and addressbook-description are writable.
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

	body, err := common.ReadBody(r, deps.Cfg.HTTP.MaxVCFBytes)
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
		case "addressbook-description":
			collection.Description = set.Value
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
		case "addressbook-description":
			collection.Description = ""
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
		common.WriteError(w, daverr.Storage(fmt.Errorf("carddav: update collection: %w", err)))
		return
	}

	common.WriteMultistatus(w, multistatus.Multistatus{Responses: []multistatus.Response{{
		Href:      resourcePath,
		Propstats: []multistatus.PropstatGroup{{Status: 200, Names: okNames}},
	}}})
}
