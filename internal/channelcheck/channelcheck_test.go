package channelcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
	"github.com/wondertwin-ai/hubverify/internal/hubtwin"
	"github.com/wondertwin-ai/hubverify/internal/suite"
)

func newClient() *hubclient.Client {
	return hubclient.New(hubclient.Options{Timeout: 5 * time.Second})
}

func stepNames(rec *suite.Recorder) []string {
	var out []string
	for _, s := range rec.Steps() {
		out = append(out, s.Name)
	}
	return out
}

func TestChecksPassAgainstHub(t *testing.T) {
	hub, hubURL := hubtwin.NewServer(t, hubtwin.Options{})
	opts := Options{HubURL: hubURL}

	tests := []struct {
		check suite.Check
		steps []string
	}{
		{
			check: NewDescriptionCheck(newClient(), opts),
			steps: []string{
				"channel does not exist yet",
				"creates channel with description",
				"channel exists with description",
				"deletes channel",
			},
		},
		{
			check: NewTTLNullCheck(newClient(), opts),
			steps: []string{
				"channel does not exist yet",
				"creates channel with null ttl",
				"patches ttl to null",
				"deletes channel",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.check.Name(), func(t *testing.T) {
			rec := suite.NewRecorder(tt.check.Name(), nil)
			if err := tt.check.Run(context.Background(), rec); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := stepNames(rec); !slices.Equal(got, tt.steps) {
				t.Errorf("steps = %v, want %v", got, tt.steps)
			}
			if names := hub.ChannelNames(); len(names) != 0 {
				t.Errorf("channels left behind: %v", names)
			}
		})
	}
}

func TestDescriptionNotEchoed(t *testing.T) {
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"name":"x"}`))
		case http.MethodDelete:
			deleted.Store(true)
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewDescriptionCheck(newClient(), Options{HubURL: srv.URL})
	rec := suite.NewRecorder(c.Name(), nil)
	err := c.Run(context.Background(), rec)
	if !failure.Is(err, failure.CodeMismatch) {
		t.Fatalf("code = %q, want %q (err: %v)", failure.Code(err), failure.CodeMismatch, err)
	}
	if md := failure.Metadata(err); md["field"] != "description" {
		t.Errorf("field = %v", md["field"])
	}
	if !deleted.Load() {
		t.Error("created channel was not deleted")
	}
}

func TestExistingChannelFailsFirstStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	c := NewTTLNullCheck(newClient(), Options{HubURL: srv.URL})
	rec := suite.NewRecorder(c.Name(), nil)
	err := c.Run(context.Background(), rec)
	if !failure.Is(err, failure.CodeUnexpectedStatus) {
		t.Fatalf("code = %q, want %q", failure.Code(err), failure.CodeUnexpectedStatus)
	}
	if got := stepNames(rec); !slices.Equal(got, []string{"channel does not exist yet"}) {
		t.Errorf("steps = %v", got)
	}
}
