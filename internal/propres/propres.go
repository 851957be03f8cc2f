// Package propres implements the PROPFIND property resolver: given a
// resolved resource and a requested property list, produce the found/
// not_found partition a PROPFIND response serializes. Resolution follows
// a lazy, memoizing env + resolver-table pattern, built on samber/mo's
// Result type so a resolver can fail a single property without aborting
// the whole PROPFIND.
package propres

import (
	"context"
	"fmt"

	"github.com/samber/mo"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/storage"
)

// PropValue is a tagged variant covering a property's rendered value:
// most properties are plain text or a href(-set), a few are pre-built
// opaque XML fragments assembled outside this package.
type PropValue struct {
	Text         string
	Href         string
	HrefSet      []string
	ResourceType []QName
	XML          string
	Empty        bool
}

// QName is a qualified XML element name.
type QName struct{ NS, Local string }

// Resolver resolves a single property for the given environment.
type Resolver func(ctx context.Context, env *Env) mo.Result[PropValue]

// Env provides lazy, memoized accessors to the storage rows and
// authorization facts a property resolver may need.
type Env struct {
	Store        storage.Store
	Authz        *acl.Authorizer
	Subjects     []acl.Subject
	ResourcePath string
	RouteHref    string // this resource's own href

	Collection *storage.Collection // nil for instance resources
	Instance   *storage.Instance   // nil for collection resources

	privSet    []acl.Action
	privSetErr error
	privLoaded bool
}

func (e *Env) effectivePrivileges(ctx context.Context) ([]acl.Action, error) {
	if e.privLoaded {
		return e.privSet, e.privSetErr
	}
	e.privLoaded = true
	e.privSet, e.privSetErr = e.Authz.EffectivePrivilegeSet(ctx, e.Subjects, e.ResourcePath)
	return e.privSet, e.privSetErr
}

// Request is the parsed PropfindRequest shape: allprop, propname, or an
// explicit prop(list).
type Request struct {
	AllProp  bool
	PropName bool
	Props    []QName // used when neither AllProp nor PropName
}

// Result is the found/not_found partition a PROPFIND response serializes.
type Result struct {
	Found    map[QName]PropValue
	NotFound []QName
}

// collectionResolvers resolves DAV:/caldav:/carddav: properties valid on
// a collection resource.
var collectionResolvers = map[string]Resolver{
	"displayname": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		name := env.Collection.DisplayName
		if name == "" {
			name = env.Collection.Slug
		}
		return mo.Ok(PropValue{Text: name})
	},
	"resourcetype": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		rts := []QName{{"DAV:", "collection"}}
		switch env.Collection.Type {
		case storage.CollectionCalendar:
			rts = append(rts, QName{"urn:ietf:params:xml:ns:caldav", "calendar"})
		case storage.CollectionAddressbook:
			rts = append(rts, QName{"urn:ietf:params:xml:ns:carddav", "addressbook"})
		}
		return mo.Ok(PropValue{ResourceType: rts})
	},
	"acl": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		privs, err := env.effectivePrivileges(ctx)
		if err != nil {
			return mo.Err[PropValue](err)
		}
		return mo.Ok(PropValue{XML: buildACLFragment(privs)})
	},
	"current-user-privilege-set": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		highest, ok, err := env.Authz.CurrentUserPrivilegeSet(ctx, env.Subjects, env.ResourcePath)
		if err != nil {
			return mo.Err[PropValue](err)
		}
		if !ok {
			return mo.Ok(PropValue{XML: "<D:privilege/>"})
		}
		return mo.Ok(PropValue{XML: buildPrivilegeSetFragment(highest)})
	},
	"supported-report-set": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		var reports []string
		switch env.Collection.Type {
		case storage.CollectionCalendar:
			reports = []string{"calendar-query", "calendar-multiget", "sync-collection", "expand-property", "free-busy-query"}
		case storage.CollectionAddressbook:
			reports = []string{"addressbook-query", "addressbook-multiget", "sync-collection", "expand-property"}
		default:
			reports = []string{"sync-collection", "expand-property"}
		}
		return mo.Ok(PropValue{XML: buildSupportedReportSetFragment(reports)})
	},
	"getetag": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		return mo.Ok(PropValue{Text: fmt.Sprintf("%q", fmt.Sprint(env.Collection.SyncToken))})
	},
	"supported-calendar-component-set": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		if env.Collection.Type != storage.CollectionCalendar {
			return mo.Err[PropValue](daverr.NotFound("supported-calendar-component-set"))
		}
		return mo.Ok(PropValue{XML: `<C:comp name="VEVENT"/><C:comp name="VTODO"/><C:comp name="VJOURNAL"/>`})
	},
	"supported-collation-set": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		if env.Collection.Type != storage.CollectionCalendar {
			return mo.Err[PropValue](daverr.NotFound("supported-collation-set"))
		}
		return mo.Ok(PropValue{XML: `<C:supported-collation>i;ascii-casemap</C:supported-collation><C:supported-collation>i;octet</C:supported-collation><C:supported-collation>i;unicode-casemap</C:supported-collation>`})
	},
	"max-resource-size": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		if env.Collection.Type != storage.CollectionCalendar && env.Collection.Type != storage.CollectionAddressbook {
			return mo.Err[PropValue](daverr.NotFound("max-resource-size"))
		}
		return mo.Ok(PropValue{Text: "10485760"})
	},
	"min-date-time": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		if env.Collection.Type != storage.CollectionCalendar {
			return mo.Err[PropValue](daverr.NotFound("min-date-time"))
		}
		return mo.Ok(PropValue{Text: "00010101T000000Z"})
	},
	"max-date-time": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		if env.Collection.Type != storage.CollectionCalendar {
			return mo.Err[PropValue](daverr.NotFound("max-date-time"))
		}
		return mo.Ok(PropValue{Text: "99991231T235959Z"})
	},
	"supported-address-data": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		if env.Collection.Type != storage.CollectionAddressbook {
			return mo.Err[PropValue](daverr.NotFound("supported-address-data"))
		}
		return mo.Ok(PropValue{XML: `<CARD:address-data-type content-type="text/vcard" version="3.0"/><CARD:address-data-type content-type="text/vcard" version="4.0"/>`})
	},
}

// instanceResolvers resolves properties valid on an instance resource.
var instanceResolvers = map[string]Resolver{
	"getetag": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		return mo.Ok(PropValue{Text: fmt.Sprintf("%q", env.Instance.ETag)})
	},
	"getcontenttype": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		return mo.Ok(PropValue{Text: env.Instance.ContentType})
	},
	"resourcetype": func(ctx context.Context, env *Env) mo.Result[PropValue] {
		return mo.Ok(PropValue{Empty: true})
	},
}

// Resolve dispatches every requested property through the
// resource-type-appropriate resolver table, collecting the found/not_found
// partition.
func Resolve(ctx context.Context, env *Env, req Request) Result {
	table := instanceResolvers
	if env.Collection != nil {
		table = collectionResolvers
	}

	names := req.Props
	if req.AllProp || req.PropName {
		for local := range table {
			names = append(names, QName{"DAV:", local})
		}
	}

	out := Result{Found: make(map[QName]PropValue)}
	for _, qn := range names {
		r, ok := table[qn.Local]
		if !ok {
			out.NotFound = append(out.NotFound, qn)
			continue
		}
		res := r(ctx, env)
		if res.IsError() {
			out.NotFound = append(out.NotFound, qn)
			continue
		}
		out.Found[qn] = res.MustGet()
	}
	return out
}

func buildACLFragment(privs []acl.Action) string {
	s := `<D:ace><D:principal><D:property><D:owner/></D:property></D:principal><D:grant>`
	for _, p := range privs {
		s += fmt.Sprintf(`<D:privilege><D:%s/></D:privilege>`, string(p))
	}
	return s + `</D:grant></D:ace>`
}

func buildPrivilegeSetFragment(highest acl.Role) string {
	names := map[acl.Role]string{
		acl.RoleOwner:          "all",
		acl.RoleShareManager:   "share",
		acl.RoleEditor:         "write",
		acl.RoleEditorBasic:    "write-content",
		acl.RoleReader:         "read",
		acl.RoleReaderFreebusy: "read-free-busy",
	}
	name, ok := names[highest]
	if !ok {
		return "<D:privilege/>"
	}
	return fmt.Sprintf("<D:privilege><D:%s/></D:privilege>", name)
}

func buildSupportedReportSetFragment(reports []string) string {
	s := ""
	for _, r := range reports {
		s += fmt.Sprintf(`<D:supported-report><D:report><C:%s/></D:report></D:supported-report>`, r)
	}
	return s
}
