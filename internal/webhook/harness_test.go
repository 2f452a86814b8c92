package webhook

import (
	"context"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubtwin"
	"github.com/wondertwin-ai/hubverify/internal/suite"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newHarness(t *testing.T, hubURL string, policy Policy) *Harness {
	t.Helper()
	port := freePort(t)
	return NewHarness(Config{
		HubURL:         hubURL,
		CallbackDomain: "http://127.0.0.1",
		CallbackPort:   port,
		StartItem:      policy,
		ThrowawayItems: 1,
		SeedItems:      1,
		NewItems:       4,
		ReplayCount:    1,
		PollInterval:   20 * time.Millisecond,
		Timeout:        5 * time.Second,
	}, Options{ListenAddr: "127.0.0.1:" + strconv.Itoa(port)})
}

func stepNames(steps []suite.StepResult) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}

// ----------------------------------------------------------------------------
// Delivery
// ----------------------------------------------------------------------------

func TestPreviousReplaysSecondSeedThenNewItems(t *testing.T) {
	hub, hubURL := hubtwin.NewServer(t, hubtwin.Options{RetryDelay: 20 * time.Millisecond})
	h := newHarness(t, hubURL, Previous)

	rec := suite.NewRecorder(h.Name(), nil)
	if err := h.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := h.Outcome()
	if len(out.Expected) != 5 {
		t.Fatalf("expected 5 deliveries, got %d: %v", len(out.Expected), out.Expected)
	}
	if !slices.Equal(out.Captured, out.Expected) {
		t.Errorf("captured %v, want %v", out.Captured, out.Expected)
	}

	wantSteps := []string{
		"creates channel",
		"posts seed items",
		"registers webhook",
		"starts callback server",
		"posts new items",
		"awaits deliveries",
		"verifies delivery order",
		"closes callback server",
		"deletes webhook",
		"deletes channel",
	}
	if got := stepNames(rec.Steps()); !slices.Equal(got, wantSteps) {
		t.Errorf("steps = %v, want %v", got, wantSteps)
	}
	if rec.Failed() {
		t.Errorf("unexpected failed step: %+v", rec.Steps())
	}

	wantStates := []State{
		Created, ItemsSeeded, WebhookRegistered, ServerListening, ItemsInserted,
		ConditionMet, ServerClosed, WebhookDeleted, ChannelDeleted,
	}
	if !slices.Equal(out.States, wantStates) {
		t.Errorf("states = %v, want %v", out.States, wantStates)
	}
	if h.State() != ChannelDeleted {
		t.Errorf("final state = %v", h.State())
	}

	name := strings.TrimPrefix(out.ChannelURL, hubURL+"/channel/")
	if hub.HasChannel(name) || hub.HasWebhook(out.Webhook) {
		t.Error("teardown left the channel or webhook behind")
	}
}

func TestStartItemPolicies(t *testing.T) {
	tests := []struct {
		policy Policy
		want   int
	}{
		{Continue, 4},
		{Earliest, 6},
		{Exact, 5},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			_, hubURL := hubtwin.NewServer(t, hubtwin.Options{RetryDelay: 20 * time.Millisecond})
			h := newHarness(t, hubURL, tt.policy)

			if err := h.Run(context.Background(), suite.NewRecorder(h.Name(), nil)); err != nil {
				t.Fatalf("Run: %v", err)
			}
			out := h.Outcome()
			if len(out.Captured) != tt.want {
				t.Errorf("captured %d items, want %d", len(out.Captured), tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Failures
// ----------------------------------------------------------------------------

func TestDroppedDeliveryTimesOut(t *testing.T) {
	var skipped atomic.Bool
	hub, hubURL := hubtwin.NewServer(t, hubtwin.Options{
		RetryDelay: 20 * time.Millisecond,
		SkipDelivery: func(string) bool {
			return skipped.CompareAndSwap(false, true)
		},
	})
	h := newHarness(t, hubURL, Previous)
	h.cfg.Timeout = 300 * time.Millisecond

	rec := suite.NewRecorder(h.Name(), nil)
	err := h.Run(context.Background(), rec)
	if !failure.Is(err, failure.CodeTimeout) {
		t.Fatalf("code = %q, want %q (err: %v)", failure.Code(err), failure.CodeTimeout, err)
	}
	if c := failure.Contract(err); c != failure.ContractDeliveryCount {
		t.Errorf("contract = %q", c)
	}
	md := failure.Metadata(err)
	if md["captured"] != 4 || md["expected"] != 5 {
		t.Errorf("observed counts = %v/%v, want 4/5", md["captured"], md["expected"])
	}

	out := h.Outcome()
	if !slices.Contains(out.States, ConditionTimedOut) {
		t.Errorf("states %v missing %v", out.States, ConditionTimedOut)
	}
	if h.State() != ChannelDeleted {
		t.Errorf("teardown did not finish, state = %v", h.State())
	}
	if hub.HasWebhook(out.Webhook) {
		t.Error("webhook not deleted after failure")
	}
}

func TestTeardownRunsWhenSetupFails(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1", Previous)
	rec := suite.NewRecorder(h.Name(), nil)

	err := h.Run(context.Background(), rec)
	if !failure.Is(err, failure.CodeNetwork) {
		t.Fatalf("code = %q, want %q (err: %v)", failure.Code(err), failure.CodeNetwork, err)
	}

	want := []string{"creates channel", "closes callback server"}
	if got := stepNames(rec.Steps()); !slices.Equal(got, want) {
		t.Errorf("steps = %v, want %v", got, want)
	}
	if h.State() != ChannelDeleted {
		t.Errorf("final state = %v", h.State())
	}
}

func TestExactNeedsThrowawayItem(t *testing.T) {
	_, hubURL := hubtwin.NewServer(t, hubtwin.Options{})
	h := newHarness(t, hubURL, Exact)
	h.cfg.ThrowawayItems = 0

	rec := suite.NewRecorder(h.Name(), nil)
	if err := h.Run(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}
	if got := stepNames(rec.Steps()); !slices.Contains(got, "deletes channel") {
		t.Errorf("channel not torn down, steps = %v", got)
	}
}
