package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealIP(t *testing.T) {
	tests := []struct {
		name       string
		header     map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:   "X-Forwarded-For takes first hop",
			header: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"},
			want:   "203.0.113.5",
		},
		{
			name:   "X-Real-IP used when no XFF",
			header: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:   "203.0.113.9",
		},
		{
			name:       "falls back to RemoteAddr host",
			remoteAddr: "192.0.2.1:54321",
			want:       "192.0.2.1",
		},
		{
			name:       "RemoteAddr without port used verbatim",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			assert.Equal(t, tt.want, realIP(req))
		})
	}
}

func TestStatusOrDefault(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusOrDefault(0))
	assert.Equal(t, http.StatusNotFound, statusOrDefault(http.StatusNotFound))
}

func TestStatusRecorder_DefaultsToOKOnWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}

	n, err := sr.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusOK, sr.status)
	assert.Equal(t, 5, sr.bytes)
}

func TestStatusRecorder_ExplicitWriteHeaderHonored(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK) // second call must not override the first

	assert.Equal(t, http.StatusTeapot, sr.status)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
