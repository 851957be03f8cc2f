package webdavreport

import (
	"context"
	"fmt"
	"strings"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/filter"
	"github.com/calstack/davcore/internal/multistatus"
	"github.com/calstack/davcore/internal/propres"
	"github.com/calstack/davcore/internal/resolver"
	"github.com/calstack/davcore/internal/storage"
	"github.com/calstack/davcore/internal/syncengine"
)

const maxExpandDepth = 10

// Deps bundles the collaborators a REPORT execution needs: the resolved
// collection this REPORT targets, plus the engines wired from it.
type Deps struct {
	Store     storage.Store
	Authz     *acl.Authorizer
	Resolver  *resolver.Resolver
	Subjects  []acl.Subject
	BaseHref  string // e.g. "/dav/<owner>/<collection>/"
}

// Execute runs a parsed REPORT request against collection and returns the
// multistatus body to serialize.
func Execute(ctx context.Context, deps Deps, collection *storage.Collection, req *Request) (*multistatus.Multistatus, error) {
	switch req.Kind {
	case ReportCalendarQuery:
		return executeCalendarQuery(ctx, deps, collection, req)
	case ReportCalendarMultiget:
		return executeMultiget(ctx, deps, collection, req)
	case ReportAddressbookQuery:
		return executeAddressbookQuery(ctx, deps, collection, req)
	case ReportAddressbookMultiget:
		return executeMultiget(ctx, deps, collection, req)
	case ReportSyncCollection:
		return executeSyncCollection(ctx, deps, collection, req)
	case ReportExpandProperty:
		return executeExpandProperty(ctx, deps, req)
	default:
		return nil, daverr.ValidCalendarData("unhandled REPORT kind")
	}
}

func instancesByEntityID(ctx context.Context, store storage.Store, collectionID string) (map[string]*storage.Instance, error) {
	insts, err := store.ListInstances(ctx, collectionID)
	if err != nil {
		return nil, daverr.Storage(err)
	}
	out := make(map[string]*storage.Instance, len(insts))
	for _, inst := range insts {
		out[inst.EntityID] = inst
	}
	return out, nil
}

func executeCalendarQuery(ctx context.Context, deps Deps, collection *storage.Collection, req *Request) (*multistatus.Multistatus, error) {
	entityIDs, err := filter.EvalCalendarQuery(ctx, deps.Store, collection.ID, *req.CalendarFilter)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(entityIDs) > req.Limit {
		entityIDs = entityIDs[:req.Limit]
	}
	byEntity, err := instancesByEntityID(ctx, deps.Store, collection.ID)
	if err != nil {
		return nil, err
	}

	var resps []multistatus.Response
	for _, eid := range entityIDs {
		inst, ok := byEntity[eid]
		if !ok {
			continue
		}
		resp, err := buildInstanceResponse(ctx, deps, collection, inst, req.Props, req.AllProp)
		if err != nil {
			return nil, err
		}
		resps = append(resps, resp)
	}
	return &multistatus.Multistatus{Responses: resps}, nil
}

func executeAddressbookQuery(ctx context.Context, deps Deps, collection *storage.Collection, req *Request) (*multistatus.Multistatus, error) {
	entityIDs, err := filter.EvalAddressbookQuery(ctx, deps.Store, collection.ID, *req.AddressbookFilter)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(entityIDs) > req.Limit {
		entityIDs = entityIDs[:req.Limit]
	}
	byEntity, err := instancesByEntityID(ctx, deps.Store, collection.ID)
	if err != nil {
		return nil, err
	}

	var resps []multistatus.Response
	for _, eid := range entityIDs {
		inst, ok := byEntity[eid]
		if !ok {
			continue
		}
		resp, err := buildInstanceResponse(ctx, deps, collection, inst, req.Props, req.AllProp)
		if err != nil {
			return nil, err
		}
		resps = append(resps, resp)
	}
	return &multistatus.Multistatus{Responses: resps}, nil
}

// executeMultiget resolves each requested href independently: an href that
// no longer names a live instance becomes a bare 404 response rather than
// failing the whole REPORT.
func executeMultiget(ctx context.Context, deps Deps, collection *storage.Collection, req *Request) (*multistatus.Multistatus, error) {
	var resps []multistatus.Response
	for _, href := range req.Hrefs {
		res, err := deps.Resolver.Resolve(ctx, href)
		if err != nil || res.Instance == nil {
			resps = append(resps, multistatus.Response{Href: href, BareStatus: 404})
			continue
		}
		resp, err := buildInstanceResponse(ctx, deps, collection, res.Instance, req.Props, req.AllProp)
		if err != nil {
			return nil, err
		}
		resp.Href = href
		resps = append(resps, resp)
	}
	return &multistatus.Multistatus{Responses: resps}, nil
}

func executeSyncCollection(ctx context.Context, deps Deps, collection *storage.Collection, req *Request) (*multistatus.Multistatus, error) {
	baseline, err := syncengine.ParseToken(req.SyncToken)
	if err != nil {
		return nil, daverr.ValidCalendarData(err.Error())
	}
	delta, err := syncengine.Run(ctx, deps.Store, collection.ID, baseline, req.Limit)
	if err != nil {
		return nil, err
	}

	var resps []multistatus.Response
	for _, ch := range delta.Changed {
		href := deps.BaseHref + ch.Slug
		if ch.Deleted {
			resps = append(resps, multistatus.Response{Href: href, BareStatus: 404})
			continue
		}
		inst, err := deps.Store.GetInstanceByID(ctx, ch.InstanceID)
		if err != nil {
			return nil, daverr.Storage(err)
		}
		resp, err := buildInstanceResponse(ctx, deps, collection, inst, req.Props, req.AllProp)
		if err != nil {
			return nil, err
		}
		resps = append(resps, resp)
	}
	return &multistatus.Multistatus{Responses: resps, SyncToken: delta.NewToken}, nil
}

func buildInstanceResponse(ctx context.Context, deps Deps, collection *storage.Collection, inst *storage.Instance, props []propres.QName, allProp bool) (multistatus.Response, error) {
	env := &propres.Env{
		Store:        deps.Store,
		Authz:        deps.Authz,
		Subjects:     deps.Subjects,
		ResourcePath: deps.BaseHref + inst.Slug,
		Instance:     inst,
	}
	result := propres.Resolve(ctx, env, propres.Request{Props: props, AllProp: allProp})

	groups := []multistatus.PropstatGroup{{Status: 200, Props: result.Found}}
	if len(result.NotFound) > 0 {
		groups = append(groups, multistatus.PropstatGroup{Status: 404, Names: result.NotFound})
	}
	return multistatus.Response{
		Href:      deps.BaseHref + inst.Slug,
		Propstats: groups,
	}, nil
}

// executeExpandProperty implements the expand-property REPORT: each
// requested property is resolved against the starting resource, and any
// href-valued property is followed and expanded recursively, subject to a
// depth cap and a per-request visited set to break reference cycles.
func executeExpandProperty(ctx context.Context, deps Deps, req *Request) (*multistatus.Multistatus, error) {
	visited := map[string]bool{}
	root, err := deps.Resolver.Resolve(ctx, deps.BaseHref)
	if err != nil {
		return nil, err
	}
	resp, err := expandAt(ctx, deps, root, req.ExpandProperties, 0, visited)
	if err != nil {
		return nil, err
	}
	return &multistatus.Multistatus{Responses: []multistatus.Response{*resp}}, nil
}

func expandAt(ctx context.Context, deps Deps, res *resolver.Resolution, nodes []ExpandPropertyNode, depth int, visited map[string]bool) (*multistatus.Response, error) {
	href, _ := res.Original.Serialize(false)
	if visited[href] || depth > maxExpandDepth {
		return &multistatus.Response{Href: href, BareStatus: 404}, nil
	}
	visited[href] = true

	env := &propres.Env{
		Store:        deps.Store,
		Authz:        deps.Authz,
		Subjects:     deps.Subjects,
		ResourcePath: href,
		Collection:   resourceCollection(res),
		Instance:     res.Instance,
	}

	names := make([]propres.QName, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	result := propres.Resolve(ctx, env, propres.Request{Props: names})

	found := map[propres.QName]propres.PropValue{}
	for _, node := range nodes {
		val, ok := result.Found[node.Name]
		if !ok {
			continue
		}
		if len(node.Children) == 0 || (val.Href == "" && len(val.HrefSet) == 0) {
			found[node.Name] = val
			continue
		}
		// Recurse into the referenced resource(s) and substitute an inline
		// <response> fragment in place of the bare href, per RFC 3253 §3.8.
		hrefs := val.HrefSet
		if val.Href != "" {
			hrefs = []string{val.Href}
		}
		var frag strings.Builder
		for _, h := range hrefs {
			childRes, err := deps.Resolver.Resolve(ctx, h)
			if err != nil {
				continue
			}
			childResp, err := expandAt(ctx, deps, childRes, node.Children, depth+1, visited)
			if err != nil {
				return nil, err
			}
			frag.WriteString(fmt.Sprintf("<D:response><D:href>%s</D:href></D:response>", childResp.Href))
		}
		found[node.Name] = propres.PropValue{XML: frag.String()}
	}

	return &multistatus.Response{
		Href:      href,
		Propstats: []multistatus.PropstatGroup{{Status: 200, Props: found}},
	}, nil
}

func resourceCollection(res *resolver.Resolution) *storage.Collection {
	if res.Instance != nil || len(res.Chain) == 0 {
		return nil
	}
	return res.Chain[len(res.Chain)-1]
}
