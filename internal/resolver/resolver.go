// Package resolver implements the path resolver: turning a request
// URI into loaded storage entities plus a canonical UUID-based path.
package resolver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/pathmodel"
	"github.com/calstack/davcore/internal/storage"
)

// Resolution is the output of resolving a request URI:
// {original, canonical?, principal?, chain?, instance?, item_filename?}.
type Resolution struct {
	Original     *pathmodel.ResourceLocation
	Canonical    *pathmodel.ResourceLocation
	Principal    *storage.Principal
	Chain        []*storage.Collection // root→leaf
	Instance     *storage.Instance
	ItemFilename string
	ItemExt      string
}

// Resolver loads the entities a ResourceLocation names.
type Resolver struct {
	store storage.Store
}

func New(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve walks a request URI through principal, collection chain, and
// terminal item. Only genuine storage failures are returned as error;
// missing entities are represented as nil fields so PUT-to-create paths
// can proceed.
func (r *Resolver) Resolve(ctx context.Context, uriPath string) (*Resolution, error) {
	loc, err := pathmodel.Parse(uriPath)
	if err != nil {
		return nil, daverr.InvalidPathFormat(uriPath)
	}

	res := &Resolution{Original: loc}

	ownerID, ok := loc.Owner()
	if !ok {
		return res, nil
	}

	principal, err := r.loadPrincipal(ctx, ownerID)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("resolver: load principal: %w", err))
	}
	res.Principal = principal
	if principal == nil {
		return res, nil
	}

	var parentID *string
	var collUUIDs []string
	for _, slug := range loc.CollectionSegments() {
		coll, err := r.loadCollection(ctx, principal.ID, parentID, slug)
		if err != nil {
			return nil, daverr.Storage(fmt.Errorf("resolver: load collection %q: %w", slug, err))
		}
		if coll == nil {
			break
		}
		res.Chain = append(res.Chain, coll)
		collUUIDs = append(collUUIDs, coll.ID)
		id := coll.ID
		parentID = &id
	}

	itemID, ext, hasItem := loc.Item()
	if hasItem {
		res.ItemFilename = itemID
		res.ItemExt = ext
		if len(res.Chain) == len(loc.CollectionSegments()) && len(res.Chain) > 0 {
			terminal := res.Chain[len(res.Chain)-1]
			inst, err := r.loadInstance(ctx, terminal.ID, itemID)
			if err != nil {
				return nil, daverr.Storage(fmt.Errorf("resolver: load instance %q: %w", itemID, err))
			}
			res.Instance = inst
		}
	}

	if _, hasType := loc.ResourceType(); hasType && res.Principal != nil {
		itemUUID := ""
		canonExt := ""
		if res.Instance != nil {
			itemUUID = res.Instance.ID
			canonExt = res.ItemExt
		}
		res.Canonical = loc.WithCanonicalTail(principal.ID, collUUIDs, itemUUID, canonExt)
	}

	return res, nil
}

func (r *Resolver) loadPrincipal(ctx context.Context, identifier string) (*storage.Principal, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		p, err := r.store.GetPrincipalByID(ctx, id.String())
		if err != nil {
			return notFoundAsNil(err)
		}
		return p, nil
	}
	p, err := r.store.GetPrincipalBySlug(ctx, identifier)
	if err != nil {
		return notFoundAsNil(err)
	}
	return p, nil
}

func (r *Resolver) loadCollection(ctx context.Context, ownerID string, parentID *string, identifier string) (*storage.Collection, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		c, err := r.store.GetCollectionByID(ctx, id.String())
		if err != nil {
			return notFoundAsNilCollection(err)
		}
		return c, nil
	}
	c, err := r.store.GetCollectionBySlug(ctx, ownerID, parentID, identifier)
	if err != nil {
		return notFoundAsNilCollection(err)
	}
	return c, nil
}

func (r *Resolver) loadInstance(ctx context.Context, collectionID, identifier string) (*storage.Instance, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		inst, err := r.store.GetInstanceByID(ctx, id.String())
		if err != nil {
			return notFoundAsNilInstance(err)
		}
		return inst, nil
	}
	inst, err := r.store.GetInstanceBySlug(ctx, collectionID, identifier)
	if err != nil {
		return notFoundAsNilInstance(err)
	}
	return inst, nil
}

// notFoundAsNil* helpers convert the storage layer's "not found" signal
// (storage.ErrNotFound) into a nil result, and propagate anything else as
// a real error. storage.ErrNotFound is never itself a fatal condition at
// this layer.
func notFoundAsNil(err error) (*storage.Principal, error) {
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return nil, err
}

func notFoundAsNilCollection(err error) (*storage.Collection, error) {
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return nil, err
}

func notFoundAsNilInstance(err error) (*storage.Instance, error) {
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return nil, err
}
