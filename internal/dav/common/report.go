package common

import (
	"net/http"
	"strings"

	"github.com/calstack/davcore/internal/acl"
	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/metrics"
	"github.com/calstack/davcore/internal/webdavreport"
)

// reportName maps a parsed REPORT's kind to the metric label / log field
// used for it.
func reportName(kind webdavreport.ReportKind) string {
	switch kind {
	case webdavreport.ReportCalendarQuery:
		return "calendar-query"
	case webdavreport.ReportCalendarMultiget:
		return "calendar-multiget"
	case webdavreport.ReportAddressbookQuery:
		return "addressbook-query"
	case webdavreport.ReportAddressbookMultiget:
		return "addressbook-multiget"
	case webdavreport.ReportSyncCollection:
		return "sync-collection"
	case webdavreport.ReportExpandProperty:
		return "expand-property"
	default:
		return "unknown"
	}
}

// HandleReport implements the REPORT method shared by both services:
// parse the request body, authorize read on the target collection, and
// dispatch to the REPORT engine.
func (d *Deps) HandleReport(w http.ResponseWriter, r *http.Request, resourcePath string) {
	ctx := r.Context()

	res, subjects, err := d.ResolveAndAuthorize(ctx, r, resourcePath, acl.ActionRead)
	if err != nil {
		WriteError(w, err)
		return
	}
	collection := resourceCollection(res)
	if collection == nil {
		WriteError(w, daverr.NotFound(resourcePath))
		return
	}

	body, err := ReadBody(r, d.Cfg.HTTP.MaxICSBytes)
	if err != nil {
		WriteError(w, err)
		return
	}
	parsed, err := webdavreport.Parse(body)
	if err != nil {
		WriteError(w, err)
		return
	}

	baseHref := strings.TrimSuffix(resourcePath, "/") + "/"
	deps := webdavreport.Deps{
		Store:    d.Store,
		Authz:    d.Authz,
		Resolver: d.Resolver,
		Subjects: subjects,
		BaseHref: baseHref,
	}
	ms, err := webdavreport.Execute(ctx, deps, collection, parsed)
	if err != nil {
		WriteError(w, err)
		return
	}
	metrics.ObserveReport(reportName(parsed.Kind))
	if parsed.Kind == webdavreport.ReportSyncCollection {
		metrics.ObserveSyncDelta("ok")
	}

	WriteMultistatus(w, *ms)
}
