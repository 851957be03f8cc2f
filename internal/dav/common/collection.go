package common

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/pathmodel"
	"github.com/calstack/davcore/internal/storage"
)

// CreateCollection implements MKCOL/MKCALENDAR: resolve the parent chain,
// authorize Edit on it, and create a new child collection of the given
// type named by the request path's terminal segment.
func (d *Deps) CreateCollection(w http.ResponseWriter, r *http.Request, resourcePath string, collType storage.CollectionType) {
	ctx := r.Context()

	loc, err := pathmodel.Parse(resourcePath)
	if err != nil {
		WriteError(w, daverr.InvalidPathFormat(resourcePath))
		return
	}
	segments := loc.CollectionSegments()
	if name, ext, ok := loc.Item(); ok {
		segments = append(segments, name+ext)
	}
	if len(segments) == 0 {
		WriteError(w, daverr.ResourceMustBeNull())
		return
	}
	newSlug := segments[len(segments)-1]

	res, err := d.Resolver.Resolve(ctx, resourcePath)
	if err != nil {
		WriteError(w, err)
		return
	}
	if res.Principal == nil {
		WriteError(w, daverr.ParentMissing())
		return
	}
	if len(res.Chain) != len(segments)-1 {
		WriteError(w, daverr.ParentMissing())
		return
	}
	var parentID *string
	if len(res.Chain) > 0 {
		id := res.Chain[len(res.Chain)-1].ID
		parentID = &id
	}

	if existing, err := d.Store.GetCollectionBySlug(ctx, res.Principal.ID, parentID, newSlug); err != nil && err != storage.ErrNotFound {
		WriteError(w, daverr.Storage(fmt.Errorf("common: check existing collection: %w", err)))
		return
	} else if existing != nil {
		WriteError(w, daverr.ResourceMustBeNull())
		return
	}

	authP, _ := CurrentUser(ctx)
	subjects, _, err := d.Subjects(ctx, authP)
	if err != nil {
		WriteError(w, err)
		return
	}
	parentPath, err := CollectionCanonicalPath(res)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := d.Authz.Authorize(ctx, subjects, parentPath, acl.ActionEdit); err != nil {
		WriteError(w, err)
		return
	}

	displayName := newSlug
	if body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)); err == nil && len(strings.TrimSpace(string(body))) > 0 {
		if dn := parseDisplayNameFromMkcolBody(body); dn != "" {
			displayName = dn
		}
	}

	coll := &storage.Collection{
		ID:          uuid.NewString(),
		OwnerID:     res.Principal.ID,
		Slug:        newSlug,
		ParentID:    parentID,
		Type:        collType,
		DisplayName: displayName,
	}
	if err := d.Store.CreateCollection(ctx, coll); err != nil {
		WriteError(w, daverr.Storage(fmt.Errorf("common: create collection: %w", err)))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func parseDisplayNameFromMkcolBody(body []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil {
		return ""
	}
	for _, setEl := range root.SelectElements("set") {
		propEl := setEl.SelectElement("prop")
		if propEl == nil {
			continue
		}
		if dnEl := propEl.SelectElement("displayname"); dnEl != nil {
			return strings.TrimSpace(dnEl.Text())
		}
	}
	return ""
}
