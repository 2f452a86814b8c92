package hubtwin

import (
	"net/http/httptest"
	"testing"
)

// NewServer serves a new Hub on an httptest server and returns it with the
// server's base URL. Both are torn down when tb finishes.
func NewServer(tb testing.TB, opts Options) (*Hub, string) {
	tb.Helper()
	h := New(opts)
	srv := httptest.NewServer(h.Handler())
	tb.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv.URL
}
