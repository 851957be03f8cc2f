package common

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/beevik/etree"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/multistatus"
	"github.com/calstack/davcore/internal/propres"
	"github.com/calstack/davcore/internal/resolver"
	"github.com/calstack/davcore/internal/storage"
)

// ParsePropfindBody parses a PROPFIND request body into the allprop/
// propname/prop shape propres.Resolve dispatches on. An empty body is
// treated as allprop, per RFC 4918 §9.1's "treat as allprop" default.
func ParsePropfindBody(body []byte) (propres.Request, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return propres.Request{AllProp: true}, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return propres.Request{}, daverr.ValidCalendarData(fmt.Sprintf("malformed PROPFIND XML: %v", err))
	}
	root := doc.Root()
	if root == nil {
		return propres.Request{}, daverr.ValidCalendarData("empty PROPFIND body")
	}
	if root.SelectElement("propname") != nil {
		return propres.Request{PropName: true}, nil
	}
	if root.SelectElement("allprop") != nil {
		return propres.Request{AllProp: true}, nil
	}
	propEl := root.SelectElement("prop")
	if propEl == nil {
		return propres.Request{AllProp: true}, nil
	}
	var names []propres.QName
	for _, child := range propEl.ChildElements() {
		names = append(names, propres.QName{NS: child.Space, Local: child.Tag})
	}
	return propres.Request{Props: names}, nil
}

// Depth parses the Depth header, defaulting to "0" and rejecting
// "infinity" since this server does not support unbounded-depth PROPFIND
// (RFC 4918 §9.1's allowed "propfind-finite-depth" restriction).
func Depth(r *http.Request) (int, error) {
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Depth"))) {
	case "", "0":
		return 0, nil
	case "1":
		return 1, nil
	case "infinity":
		return 0, daverr.PropfindFiniteDepth()
	default:
		return 0, daverr.PropfindFiniteDepth()
	}
}

// Propfind resolves resourcePath, authorizes it for read, and builds the
// multistatus response for it and, at Depth 1, its immediate children.
func (d *Deps) Propfind(w http.ResponseWriter, r *http.Request, resourcePath string) {
	ctx := r.Context()

	body, err := ReadBody(r, d.Cfg.HTTP.MaxICSBytes)
	if err != nil {
		WriteError(w, err)
		return
	}
	req, err := ParsePropfindBody(body)
	if err != nil {
		WriteError(w, err)
		return
	}
	depth, err := Depth(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	res, err := d.Resolver.Resolve(ctx, resourcePath)
	if err != nil {
		WriteError(w, err)
		return
	}
	if res.Chain == nil && res.Instance == nil {
		WriteError(w, daverr.NotFound(resourcePath))
		return
	}

	authP, _ := CurrentUser(ctx)
	subjects, _, err := d.Subjects(ctx, authP)
	if err != nil {
		WriteError(w, err)
		return
	}

	canonPath, err := CanonicalResourcePath(res)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := d.Authz.Authorize(ctx, subjects, canonPath, acl.ActionRead); err != nil {
		WriteError(w, err)
		return
	}

	var responses []multistatus.Response
	selfResp, err := d.propfindNode(ctx, subjects, resourcePath, res, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	responses = append(responses, selfResp)

	if depth == 1 && len(res.Chain) > 0 {
		collection := res.Chain[len(res.Chain)-1]
		children, err := d.propfindChildren(ctx, subjects, resourcePath, collection, req)
		if err != nil {
			WriteError(w, err)
			return
		}
		responses = append(responses, children...)
	}

	WriteMultistatus(w, multistatus.Multistatus{Responses: responses})
}

func (d *Deps) propfindNode(ctx context.Context, subjects []acl.Subject, hrefBase string, res *resolver.Resolution, req propres.Request) (multistatus.Response, error) {
	var collection *storage.Collection
	if res.Instance == nil && len(res.Chain) > 0 {
		collection = res.Chain[len(res.Chain)-1]
	}
	env := &propres.Env{
		Store:        d.Store,
		Authz:        d.Authz,
		Subjects:     subjects,
		ResourcePath: hrefBase,
		RouteHref:    hrefBase,
		Collection:   collection,
		Instance:     res.Instance,
	}
	result := propres.Resolve(ctx, env, req)
	return propfindResponse(hrefBase, req, result), nil
}

func (d *Deps) propfindChildren(ctx context.Context, subjects []acl.Subject, hrefBase string, collection *storage.Collection, req propres.Request) ([]multistatus.Response, error) {
	base := strings.TrimSuffix(hrefBase, "/") + "/"

	var out []multistatus.Response

	children, err := d.Store.ListChildCollections(ctx, collection.OwnerID, &collection.ID)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("common: list child collections: %w", err))
	}
	for _, child := range children {
		href := base + child.Slug + "/"
		env := &propres.Env{
			Store: d.Store, Authz: d.Authz, Subjects: subjects,
			ResourcePath: href, RouteHref: href, Collection: child,
		}
		result := propres.Resolve(ctx, env, req)
		out = append(out, propfindResponse(href, req, result))
	}

	instances, err := d.Store.ListInstances(ctx, collection.ID)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("common: list instances: %w", err))
	}
	for _, inst := range instances {
		href := base + inst.Slug
		env := &propres.Env{
			Store: d.Store, Authz: d.Authz, Subjects: subjects,
			ResourcePath: href, RouteHref: href, Instance: inst,
		}
		result := propres.Resolve(ctx, env, req)
		out = append(out, propfindResponse(href, req, result))
	}

	return out, nil
}

func propfindResponse(href string, req propres.Request, result propres.Result) multistatus.Response {
	groups := []multistatus.PropstatGroup{{Status: 200, Props: result.Found}}
	if req.PropName {
		names := make([]propres.QName, 0, len(result.Found))
		for qn := range result.Found {
			names = append(names, qn)
		}
		groups = []multistatus.PropstatGroup{{Status: 200, Names: names}}
	} else if len(result.NotFound) > 0 {
		groups = append(groups, multistatus.PropstatGroup{Status: 404, Names: result.NotFound})
	}
	return multistatus.Response{Href: href, Propstats: groups}
}

// CanonicalResourcePath returns the UUID-based path the authorization core
// matches policy globs against, falling back to the original path when the
// resolution carries no canonical form (e.g. a principal-only location).
func CanonicalResourcePath(res *resolver.Resolution) (string, error) {
	loc := res.Canonical
	if loc == nil {
		loc = res.Original
	}
	return loc.ToResourcePath()
}
