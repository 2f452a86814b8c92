// Package hubtwin is an in-memory stand-in for the hub's HTTP contract:
// channels, time-ordered items, bucket windows, previous/next navigation,
// the earliest redirect and webhook delivery. It exists so the harness can
// be tested against a hub whose behavior is known, including deliberately
// broken behavior switched on through Options.
package hubtwin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Options configures a Hub.
type Options struct {
	Logger *slog.Logger
	// ReplayCount is how many prior items startItem=previous replays. Default: 1.
	ReplayCount int
	// RetryDelay is the pause between failed delivery attempts. Default: 50ms.
	RetryDelay time.Duration

	// BatchPreviousDescending returns previous/N batches newest first.
	BatchPreviousDescending bool
	// BatchInclusive includes the anchor item in batch responses.
	BatchInclusive bool
	// IgnoreRetention makes earliest redirect to the oldest stored item even
	// when it is past the channel's retention cutoff.
	IgnoreRetention bool
	// SkipDelivery, when it returns true for an item URI, advances a webhook
	// past that item without calling back.
	SkipDelivery func(uri string) bool
}

// Hub is the in-memory hub. Use Handler to serve it.
type Hub struct {
	opts     Options
	logger   *slog.Logger
	clock    *Clock
	channels *Registry[*Channel]
	webhooks *Registry[*subscription]
	router   *chi.Mux
	client   *http.Client

	mu         sync.RWMutex
	deliveries []Delivery
	closed     bool
}

// New creates a Hub.
func New(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReplayCount <= 0 {
		opts.ReplayCount = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}

	h := &Hub{
		opts:     opts,
		logger:   opts.Logger,
		clock:    &Clock{},
		channels: NewRegistry[*Channel](),
		webhooks: NewRegistry[*subscription](),
		client:   &http.Client{Timeout: 5 * time.Second},
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Post("/channel", h.handleCreateChannel)
	r.Get("/channel/{name}", h.handleGetChannel)
	r.Patch("/channel/{name}", h.handlePatchChannel)
	r.Delete("/channel/{name}", h.handleDeleteChannel)
	r.Post("/channel/{name}", h.handlePostItem)
	r.Get("/channel/{name}/time", h.handleTime)
	r.Get("/channel/{name}/earliest", h.handleEarliest)
	r.Get("/channel/{name}/latest", h.handleLatest)
	r.Get("/channel/{name}/*", h.handleTimePath)

	r.Put("/webhook/{name}", h.handlePutWebhook)
	r.Get("/webhook/{name}", h.handleGetWebhook)
	r.Delete("/webhook/{name}", h.handleDeleteWebhook)

	h.router = r
	return h
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler { return h.router }

// Clock returns the hub clock. Advancing it moves every "now" the hub reports.
func (h *Hub) Clock() *Clock { return h.clock }

// CreateChannel creates a channel directly, bypassing HTTP.
func (h *Hub) CreateChannel(name string, ttlDays int) {
	h.channels.Set(name, newChannel(name, "", ttlDays))
}

// Seed inserts an item into a channel at t without notifying webhooks and
// returns its path relative to the channel. The channel is created with the
// default TTL if it does not exist.
func (h *Hub) Seed(name string, t time.Time, body []byte) string {
	ch, ok := h.channels.Get(name)
	if !ok {
		ch = newChannel(name, "", 0)
		h.channels.Set(name, ch)
	}
	return ch.insert(t, body).Path()
}

// Deliveries returns every webhook delivery attempt in order.
func (h *Hub) Deliveries() []Delivery {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Delivery, len(h.deliveries))
	copy(out, h.deliveries)
	return out
}

// HasChannel reports whether a channel exists.
func (h *Hub) HasChannel(name string) bool {
	_, ok := h.channels.Get(name)
	return ok
}

// ChannelNames returns the names of all channels in creation order.
func (h *Hub) ChannelNames() []string {
	var names []string
	for _, ch := range h.channels.List() {
		names = append(names, ch.name)
	}
	return names
}

// HasWebhook reports whether a webhook subscription exists.
func (h *Hub) HasWebhook(name string) bool {
	_, ok := h.webhooks.Get(name)
	return ok
}

// Close stops all webhook workers.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	for _, sub := range h.webhooks.List() {
		sub.stop()
	}
}

// ----------------------------------------------------------------------------
// Channels
// ----------------------------------------------------------------------------

type channelBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TTLDays     int    `json:"ttlDays"`
	TTLMillis   *int64 `json:"ttlMillis"`
}

func (h *Hub) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var body channelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, exists := h.channels.Get(body.Name); exists {
		writeError(w, http.StatusConflict, "channel already exists")
		return
	}

	ch := newChannel(body.Name, body.Description, body.TTLDays)
	ch.ttlMillis = body.TTLMillis
	h.channels.Set(body.Name, ch)
	h.logger.Info("channel created", "channel", body.Name)

	writeJSON(w, http.StatusCreated, h.channelView(r, ch))
}

func (h *Hub) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.channelView(r, ch))
}

func (h *Hub) handlePatchChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ch.mu.Lock()
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &ch.description)
	}
	if raw, ok := fields["ttlDays"]; ok {
		var days int
		if json.Unmarshal(raw, &days) == nil && days > 0 {
			ch.ttlDays = days
		}
	}
	if raw, ok := fields["ttlMillis"]; ok {
		var millis *int64
		_ = json.Unmarshal(raw, &millis)
		ch.ttlMillis = millis
	}
	ch.mu.Unlock()

	writeJSON(w, http.StatusOK, h.channelView(r, ch))
}

func (h *Hub) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.channels.Delete(name); !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	h.logger.Info("channel deleted", "channel", name)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Hub) handlePostItem(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	it := ch.appendNow(h.clock.Now(), body)
	self := h.channelURL(r, ch.name) + "/" + it.Path()
	h.logger.Debug("item posted", "channel", ch.name, "uri", self)

	for _, sub := range h.webhooks.List() {
		if sub.channel == ch.name {
			sub.notify()
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"_links": map[string]any{
			"channel": map[string]string{"href": h.channelURL(r, ch.name)},
			"self":    map[string]string{"href": self},
		},
		"timestamp": it.Time.Format(time.RFC3339Nano),
	})
}

func (h *Hub) handleTime(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.channel(w, r); !ok {
		return
	}
	now := h.clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"now": map[string]any{
			"iso8601": now.UTC().Format(time.RFC3339Nano),
			"millis":  now.UnixMilli(),
		},
	})
}

func (h *Hub) handleEarliest(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	ch.mu.RLock()
	cutoff := h.clock.Now().AddDate(0, 0, -ch.ttlDays)
	ch.mu.RUnlock()

	for _, it := range ch.snapshot() {
		if h.opts.IgnoreRetention || !it.Time.Before(cutoff) {
			h.redirect(w, r, ch.name, it)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no items within retention")
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	it, ok := ch.at(ch.len() - 1)
	if !ok {
		writeError(w, http.StatusNotFound, "channel is empty")
		return
	}
	h.redirect(w, r, ch.name, it)
}

// handleTimePath serves everything addressed by a time path below a channel:
// buckets (3 to 6 time segments), items (7 time segments plus hash), single
// steps (item/previous, item/next) and batches (item/next/N, item/previous/N).
func (h *Hub) handleTimePath(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(chi.URLParam(r, "*"), "/"), "/")

	switch {
	case len(parts) >= 3 && len(parts) <= 6:
		h.serveBucket(w, r, ch, parts)
	case len(parts) == 8:
		h.serveItem(w, ch, parts[7])
	case len(parts) == 9:
		h.serveStep(w, r, ch, parts[7], parts[8])
	case len(parts) == 10:
		n, err := strconv.Atoi(parts[9])
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid batch count")
			return
		}
		h.serveBatch(w, r, ch, parts[7], parts[8], n)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

var bucketWidths = []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}

func (h *Hub) serveBucket(w http.ResponseWriter, r *http.Request, ch *Channel, parts []string) {
	f := [6]int{0, 1, 1, 0, 0, 0}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid time segment")
			return
		}
		f[i] = n
	}
	start := time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, time.UTC)
	end := start.Add(bucketWidths[len(parts)-3])

	base := h.channelURL(r, ch.name)
	uris := []string{}
	for _, it := range ch.snapshot() {
		if !it.Time.Before(start) && it.Time.Before(end) {
			uris = append(uris, base+"/"+it.Path())
		}
	}
	writeJSON(w, http.StatusOK, uriList(r, uris))
}

func (h *Hub) serveItem(w http.ResponseWriter, ch *Channel, hash string) {
	i, ok := ch.lookup(hash)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	it, _ := ch.at(i)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(it.Body)
}

func (h *Hub) serveStep(w http.ResponseWriter, r *http.Request, ch *Channel, hash, dir string) {
	i, ok := ch.lookup(hash)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	switch dir {
	case "next":
		i++
	case "previous":
		i--
	default:
		writeError(w, http.StatusNotFound, "unknown direction")
		return
	}
	it, ok := ch.at(i)
	if !ok {
		writeError(w, http.StatusNotFound, "no adjacent item")
		return
	}
	h.redirect(w, r, ch.name, it)
}

func (h *Hub) serveBatch(w http.ResponseWriter, r *http.Request, ch *Channel, hash, dir string, n int) {
	i, ok := ch.lookup(hash)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	items := ch.snapshot()

	var lo, hi int
	switch dir {
	case "next":
		lo, hi = i+1, min(i+1+n, len(items))
		if h.opts.BatchInclusive {
			lo, hi = i, min(i+n, len(items))
		}
	case "previous":
		lo, hi = max(i-n, 0), i
		if h.opts.BatchInclusive {
			lo, hi = max(i-n+1, 0), i+1
		}
	default:
		writeError(w, http.StatusNotFound, "unknown direction")
		return
	}

	base := h.channelURL(r, ch.name)
	uris := make([]string, 0, hi-lo)
	for _, it := range items[lo:hi] {
		uris = append(uris, base+"/"+it.Path())
	}
	if dir == "previous" && h.opts.BatchPreviousDescending {
		for a, b := 0, len(uris)-1; a < b; a, b = a+1, b-1 {
			uris[a], uris[b] = uris[b], uris[a]
		}
	}
	writeJSON(w, http.StatusOK, uriList(r, uris))
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (h *Hub) channel(w http.ResponseWriter, r *http.Request) (*Channel, bool) {
	ch, ok := h.channels.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
	}
	return ch, ok
}

func (h *Hub) channelView(r *http.Request, ch *Channel) map[string]any {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	self := h.channelURL(r, ch.name)
	view := map[string]any{
		"name":      ch.name,
		"ttlDays":   ch.ttlDays,
		"ttlMillis": ch.ttlMillis,
		"_links": map[string]any{
			"self":     map[string]string{"href": self},
			"latest":   map[string]string{"href": self + "/latest"},
			"earliest": map[string]string{"href": self + "/earliest"},
			"time":     map[string]string{"href": self + "/time"},
		},
	}
	if ch.description != "" {
		view["description"] = ch.description
	}
	return view
}

func (h *Hub) redirect(w http.ResponseWriter, r *http.Request, channel string, it Item) {
	w.Header().Set("Location", h.channelURL(r, channel)+"/"+it.Path())
	w.WriteHeader(http.StatusSeeOther)
}

func (h *Hub) channelURL(r *http.Request, name string) string {
	return baseURL(r) + "/channel/" + name
}

func baseURL(r *http.Request) string {
	return "http://" + r.Host
}

func uriList(r *http.Request, uris []string) map[string]any {
	return map[string]any{
		"_links": map[string]any{
			"self": map[string]string{"href": baseURL(r) + r.URL.Path},
			"uris": uris,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
