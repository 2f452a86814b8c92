// Package webhook verifies webhook delivery end to end: it seeds a fresh
// channel, subscribes a callback to it, posts more items and waits for the
// callback to have received exactly the expected items in order.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/hubverify/internal/capture"
	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
	"github.com/wondertwin-ai/hubverify/internal/poll"
	"github.com/wondertwin-ai/hubverify/internal/suite"
)

// State is a harness lifecycle state. States only advance, in declaration
// order; a failure skips straight to teardown.
type State int

const (
	Created State = iota
	ItemsSeeded
	WebhookRegistered
	ServerListening
	ItemsInserted
	ConditionMet
	ConditionTimedOut
	ServerClosed
	WebhookDeleted
	ChannelDeleted
)

var stateNames = map[State]string{
	Created:           "created",
	ItemsSeeded:       "items_seeded",
	WebhookRegistered: "webhook_registered",
	ServerListening:   "server_listening",
	ItemsInserted:     "items_inserted",
	ConditionMet:      "condition_met",
	ConditionTimedOut: "condition_timed_out",
	ServerClosed:      "server_closed",
	WebhookDeleted:    "webhook_deleted",
	ChannelDeleted:    "channel_deleted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Config is the harness configuration.
type Config struct {
	HubURL         string
	CallbackDomain string
	CallbackPort   int
	StartItem      Policy
	ThrowawayItems int
	SeedItems      int
	NewItems       int
	ReplayCount    int
	PollInterval   time.Duration
	Timeout        time.Duration
	SettleDelay    time.Duration
}

// Options carries the harness's collaborators.
type Options struct {
	Client *hubclient.Client
	Logger *slog.Logger
	// ListenAddr overrides the callback listener address. Default:
	// ":<CallbackPort>".
	ListenAddr string
}

// Outcome is what a run observed.
type Outcome struct {
	ChannelURL  string   `json:"channel_url"`
	Webhook     string   `json:"webhook"`
	CallbackURL string   `json:"callback_url"`
	Expected    []string `json:"expected"`
	Captured    []string `json:"captured"`
	States      []State  `json:"states"`
}

// Harness runs one webhook delivery scenario. A Harness is single-use.
type Harness struct {
	cfg    Config
	client *hubclient.Client
	logger *slog.Logger
	listen string

	channel     string
	webhook     string
	callbackURL string
	path        string

	mu       sync.Mutex
	state    State
	states   []State
	expected []string
	server   *capture.Server
}

// NewHarness creates a Harness with fresh channel and webhook names.
func NewHarness(cfg Config, opts Options) *Harness {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = hubclient.New(hubclient.Options{Logger: opts.Logger})
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":" + strconv.Itoa(cfg.CallbackPort)
	}
	if cfg.StartItem == "" {
		cfg.StartItem = Continue
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	h := &Harness{
		cfg:     cfg,
		client:  opts.Client,
		listen:  opts.ListenAddr,
		channel: "hubverify_wh_" + id[:12],
		webhook: "hubverify_wh_" + id[:12],
		path:    "/callback/" + id[12:24],
		states:  []State{Created},
	}
	h.callbackURL = fmt.Sprintf("%s:%d%s", strings.TrimRight(cfg.CallbackDomain, "/"), cfg.CallbackPort, h.path)
	h.logger = opts.Logger.With("channel", h.channel, "webhook", h.webhook)
	return h
}

// Name implements suite.Check.
func (h *Harness) Name() string {
	return "webhook delivery (" + string(h.cfg.StartItem) + ")"
}

// State returns the current state.
func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Outcome returns a snapshot of what the run has observed so far.
func (h *Harness) Outcome() *Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Outcome{
		ChannelURL:  h.channelURL(),
		Webhook:     h.webhook,
		CallbackURL: h.callbackURL,
		Expected:    append([]string(nil), h.expected...),
		Captured:    Identities(h.server.Log().Payloads()),
		States:      append([]State(nil), h.states...),
	}
}

func (h *Harness) advance(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
	h.states = append(h.states, s)
	h.logger.Debug("harness state", "state", s)
}

func (h *Harness) channelURL() string {
	return hubclient.ChannelURL(h.cfg.HubURL, h.channel)
}

// Run implements suite.Check. Teardown steps run on every exit path and are
// recorded on rec like any other step.
func (h *Harness) Run(ctx context.Context, rec *suite.Recorder) (err error) {
	var (
		channelCreated    bool
		webhookRegistered bool
		seeded            []string
		inserted          []string
	)

	defer func() {
		terr := h.teardown(rec, channelCreated, webhookRegistered)
		if err == nil {
			err = terr
		}
	}()

	if err := rec.Step("creates channel", func() error {
		if err := h.createChannel(ctx); err != nil {
			return err
		}
		channelCreated = true
		return nil
	}); err != nil {
		return err
	}

	if err := rec.Step("posts seed items", func() (err error) {
		seeded, err = h.postItems(ctx, "seed", h.cfg.ThrowawayItems+h.cfg.SeedItems)
		return err
	}); err != nil {
		return err
	}
	h.advance(ItemsSeeded)

	if h.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.cfg.SettleDelay):
		}
	}

	start, err := h.startItem(seeded)
	if err != nil {
		return rec.Step("registers webhook", func() error { return err })
	}
	if err := rec.Step("registers webhook", func() error {
		if err := h.registerWebhook(ctx, start); err != nil {
			return err
		}
		webhookRegistered = true
		return nil
	}); err != nil {
		return err
	}
	h.advance(WebhookRegistered)

	if err := rec.Step("starts callback server", h.startServer); err != nil {
		return err
	}
	h.advance(ServerListening)

	if err := rec.Step("posts new items", func() (err error) {
		inserted, err = h.postItems(ctx, "new", h.cfg.NewItems)
		return err
	}); err != nil {
		return err
	}
	h.advance(ItemsInserted)

	expected := Expect(start, seeded, inserted)
	h.mu.Lock()
	h.expected = expected
	h.mu.Unlock()

	if err := rec.Step("awaits deliveries", func() error {
		return h.await(ctx, len(expected))
	}); err != nil {
		return err
	}

	return rec.Step("verifies delivery order", func() error {
		captured := Identities(h.server.Log().Payloads())
		if len(captured) != len(expected) {
			return failure.Compare(failure.ContractDeliveryCount, expected, captured)
		}
		return failure.Compare(failure.ContractDeliveryOrder, expected, captured)
	})
}

// startItem resolves the configured policy against the seeded items. Exact
// starts after the last throwaway item.
func (h *Harness) startItem(seeded []string) (StartItem, error) {
	start := StartItem{Policy: h.cfg.StartItem, ReplayCount: h.cfg.ReplayCount}
	if start.Policy == Previous && start.ReplayCount <= 0 {
		start.ReplayCount = 1
	}
	if start.Policy == Exact {
		if h.cfg.ThrowawayItems < 1 || len(seeded) < h.cfg.ThrowawayItems {
			return start, errors.New("webhook: exact start item needs at least one throwaway item")
		}
		start.Anchor = seeded[h.cfg.ThrowawayItems-1]
	}
	return start, nil
}

func (h *Harness) createChannel(ctx context.Context) error {
	url := strings.TrimRight(h.cfg.HubURL, "/") + "/channel"
	resp, err := h.client.PostJSON(ctx, url, hubclient.ChannelConfig{Name: h.channel})
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusCreated)
}

// postItems posts n items and returns their self URIs in post order.
func (h *Harness) postItems(ctx context.Context, kind string, n int) ([]string, error) {
	uris := make([]string, 0, n)
	for i := range n {
		resp, err := h.client.PostJSON(ctx, h.channelURL(), map[string]any{
			"kind": kind,
			"seq":  i,
		})
		if err != nil {
			return uris, err
		}
		if err := resp.Expect(http.StatusOK, http.StatusCreated); err != nil {
			return uris, err
		}
		var item hubclient.PostedItem
		if err := resp.Decode(&item); err != nil {
			return uris, err
		}
		if item.Links.Self.Href == "" {
			return uris, failure.Malformed(resp.Method, resp.URL, errors.New("posted item has no self link"))
		}
		uris = append(uris, item.Links.Self.Href)
		h.logger.Debug("item posted", "kind", kind, "uri", item.Links.Self.Href)
	}
	return uris, nil
}

func (h *Harness) registerWebhook(ctx context.Context, start StartItem) error {
	resp, err := h.client.PutJSON(ctx, hubclient.WebhookURL(h.cfg.HubURL, h.webhook), hubclient.WebhookConfig{
		CallbackURL: h.callbackURL,
		ChannelURL:  h.channelURL(),
		StartItem:   start.Value(),
	})
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusCreated); err != nil {
		return err
	}
	h.logger.Info("webhook registered", "callback_url", h.callbackURL, "start_item", start.Value())
	return nil
}

func (h *Harness) startServer() error {
	srv, err := capture.Start(capture.Options{
		Addr:       h.listen,
		PathPrefix: h.path,
		Logger:     h.logger,
		OnReceive: func(e capture.Entry) {
			h.logger.Debug("callback received", "seq", e.Seq, "payload", e.Payload)
		},
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.server = srv
	h.mu.Unlock()
	return nil
}

func (h *Harness) await(ctx context.Context, want int) error {
	log := h.server.Log()
	err := poll.Wait(ctx, func() bool {
		return len(Identities(log.Payloads())) >= want
	}, poll.Options{
		Interval: h.cfg.PollInterval,
		Timeout:  h.cfg.Timeout,
		Contract: failure.ContractDeliveryCount,
		Observe: func() map[string]any {
			return map[string]any{
				"captured": len(Identities(log.Payloads())),
				"expected": want,
			}
		},
	})
	if err != nil {
		h.advance(ConditionTimedOut)
		return err
	}
	h.advance(ConditionMet)
	return nil
}

// teardown closes the server and deletes what the run created. It uses a
// fresh context so cleanup still happens after ctx is cancelled.
func (h *Harness) teardown(rec *suite.Recorder, channelCreated, webhookRegistered bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error

	h.mu.Lock()
	srv := h.server
	h.mu.Unlock()
	errs = append(errs, rec.Step("closes callback server", srv.Close))
	h.advance(ServerClosed)

	if webhookRegistered {
		errs = append(errs, rec.Step("deletes webhook", func() error {
			return h.delete(ctx, hubclient.WebhookURL(h.cfg.HubURL, h.webhook))
		}))
	}
	h.advance(WebhookDeleted)

	if channelCreated {
		errs = append(errs, rec.Step("deletes channel", func() error {
			return h.delete(ctx, h.channelURL())
		}))
	}
	h.advance(ChannelDeleted)

	return errors.Join(errs...)
}

func (h *Harness) delete(ctx context.Context, url string) error {
	resp, err := h.client.Delete(ctx, url)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusAccepted)
}
