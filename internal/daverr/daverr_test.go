package daverr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"resource must be null", ResourceMustBeNull(), http.StatusConflict},
		{"needs privilege", NeedsPrivilege("/calendars/alice/work"), http.StatusForbidden},
		{"not found", NotFound("/calendars/alice/missing"), http.StatusNotFound},
		{"if-match failed", IfMatchFailed(), http.StatusPreconditionFailed},
		{"lock token submitted", LockTokenSubmitted([]string{"/a"}), http.StatusLocked},
		{"max resource size", MaxResourceSize(1024), http.StatusForbidden},
		{"number of matches", NumberOfMatchesWithinLimits(), http.StatusInsufficientStorage},
		{"storage error falls back to 500", Storage(errors.New("boom")), http.StatusInternalServerError},
		{"plain error falls back to 500", errors.New("not a daverr.Error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Storage(cause)
	require.ErrorIs(t, err, cause)
}

func TestNoUidConflict_InnerXML(t *testing.T) {
	err := NoUidConflict("/calendars/alice/work/other.ics")
	assert.Contains(t, err.Precond.InnerXML, "/calendars/alice/work/other.ics")

	bare := NoUidConflict("")
	assert.Empty(t, bare.Precond.InnerXML)
}

func TestSupportedCollation_ListsEachToken(t *testing.T) {
	err := SupportedCollation("i;bogus", []string{"i;octet", "i;ascii-casemap"})
	assert.Contains(t, err.Precond.InnerXML, "i;octet")
	assert.Contains(t, err.Precond.InnerXML, "i;ascii-casemap")
	assert.Equal(t, "i;bogus", err.Precond.Message)
}

func TestError_Error(t *testing.T) {
	withPrecond := NeedsPrivilege("/calendars/alice")
	assert.Contains(t, withPrecond.Error(), "needs-privilege")

	cause := errors.New("underlying failure")
	withCauseOnly := &Error{Kind: KindStorage, Cause: cause}
	assert.Equal(t, cause.Error(), withCauseOnly.Error())

	empty := &Error{}
	assert.Equal(t, "daverr: unknown error", empty.Error())
}
