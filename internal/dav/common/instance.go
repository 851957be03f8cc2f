package common

import (
	"context"
	"fmt"
	"net/http"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/pathmodel"
	"github.com/calstack/davcore/internal/resolver"
	"github.com/calstack/davcore/internal/storage"
)

// CollectionCanonicalPath returns the canonical (UUID-keyed) path of the
// collection chain a resolution lands in, independent of whether the
// terminal item itself exists yet. PUT handlers authorize against this
// rather than res.Canonical, since the latter's item segment is only
// populated once the instance has been created.
func CollectionCanonicalPath(res *resolver.Resolution) (string, error) {
	if res.Principal == nil {
		return res.Original.ToResourcePath()
	}
	segments := []pathmodel.PathSegment{res.Original.Segments[0], res.Original.Segments[1]}
	for _, c := range res.Chain {
		segments = append(segments, pathmodel.PathSegment{Kind: pathmodel.SegCollection, Collection: c.ID})
	}
	loc := &pathmodel.ResourceLocation{Segments: segments}
	return loc.ToResourcePath()
}

// ResolveAndAuthorize resolves resourcePath and authorizes the expanded
// request subject set for action against its canonical path. It is the
// common prefix of the GET/HEAD/DELETE/REPORT/PROPPATCH handlers; PUT
// resolves and authorizes against CollectionCanonicalPath instead.
func (d *Deps) ResolveAndAuthorize(ctx context.Context, r *http.Request, resourcePath string, action acl.Action) (*resolver.Resolution, []acl.Subject, error) {
	res, err := d.Resolver.Resolve(ctx, resourcePath)
	if err != nil {
		return nil, nil, err
	}
	authP, _ := CurrentUser(r.Context())
	subjects, _, err := d.Subjects(ctx, authP)
	if err != nil {
		return nil, nil, err
	}
	canonPath, err := CanonicalResourcePath(res)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Authz.Authorize(ctx, subjects, canonPath, action); err != nil {
		return nil, nil, err
	}
	return res, subjects, nil
}

// GetInstance implements GET/HEAD: resolve, authorize read, load the
// backing entity, and write it with its stored content-type and ETag.
// When headOnly is set, the body is omitted.
func (d *Deps) GetInstance(w http.ResponseWriter, r *http.Request, resourcePath string, headOnly bool) {
	ctx := r.Context()
	res, _, err := d.ResolveAndAuthorize(ctx, r, resourcePath, acl.ActionRead)
	if err != nil {
		WriteError(w, err)
		return
	}
	if res.Instance == nil {
		WriteError(w, daverr.NotFound(resourcePath))
		return
	}
	entity, err := d.Store.GetEntity(ctx, res.Instance.EntityID)
	if err != nil {
		WriteError(w, daverr.Storage(fmt.Errorf("common: load entity: %w", err)))
		return
	}
	w.Header().Set("Content-Type", res.Instance.ContentType)
	w.Header().Set("ETag", fmt.Sprintf("%q", res.Instance.ETag))
	if headOnly {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write([]byte(entity.Data))
}

// DeleteInstance implements DELETE: resolve, authorize delete, remove the
// instance, and bump the owning collection's sync token.
func (d *Deps) DeleteInstance(w http.ResponseWriter, r *http.Request, resourcePath string) {
	ctx := r.Context()
	res, _, err := d.ResolveAndAuthorize(ctx, r, resourcePath, acl.ActionDelete)
	if err != nil {
		WriteError(w, err)
		return
	}
	if res.Instance == nil {
		WriteError(w, daverr.NotFound(resourcePath))
		return
	}
	if err := d.Store.DeleteInstance(ctx, res.Instance.ID); err != nil {
		WriteError(w, daverr.Storage(fmt.Errorf("common: delete instance: %w", err)))
		return
	}
	collectionID := res.Chain[len(res.Chain)-1].ID
	if _, err := d.Store.BumpSyncToken(ctx, collectionID); err != nil {
		WriteError(w, daverr.Storage(fmt.Errorf("common: bump sync token: %w", err)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckIfMatch enforces an If-Match precondition against the resolved
// instance's current ETag, when the client sent one.
func CheckIfMatch(r *http.Request, current string) error {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" || ifMatch == "*" {
		return nil
	}
	if ifMatch != fmt.Sprintf("%q", current) && ifMatch != current {
		return daverr.IfMatchFailed()
	}
	return nil
}

func resourceCollection(res *resolver.Resolution) *storage.Collection {
	if len(res.Chain) == 0 {
		return nil
	}
	return res.Chain[len(res.Chain)-1]
}
