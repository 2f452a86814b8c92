package hubtwin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Delivery records one webhook callback attempt.
type Delivery struct {
	Webhook    string    `json:"webhook"`
	URI        string    `json:"uri"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}

type webhookBody struct {
	CallbackURL string `json:"callbackUrl"`
	ChannelURL  string `json:"channelUrl"`
	StartItem   string `json:"startItem,omitempty"`
}

// subscription delivers a channel's items to one callback URL, one item per
// call, strictly in channel order. cursor is the index of the next item to
// deliver.
type subscription struct {
	name    string
	body    webhookBody
	channel string
	base    string

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	cursor int
}

func (s *subscription) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (h *Hub) handlePutWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.CallbackURL == "" || body.ChannelURL == "" {
		writeError(w, http.StatusBadRequest, "callbackUrl and channelUrl are required")
		return
	}

	channel := body.ChannelURL[strings.LastIndex(strings.TrimRight(body.ChannelURL, "/"), "/")+1:]
	channel = strings.TrimRight(channel, "/")
	ch, ok := h.channels.Get(channel)
	if !ok {
		writeError(w, http.StatusBadRequest, "channel not found")
		return
	}

	cursor, ok := h.startCursor(ch, body.StartItem)
	if !ok {
		writeError(w, http.StatusBadRequest, "startItem is not an item of the channel")
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "hub is closed")
		return
	}

	if old, exists := h.webhooks.Get(name); exists {
		old.stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		name:    name,
		body:    body,
		channel: channel,
		base:    baseURL(r),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
		cursor:  cursor,
	}
	h.webhooks.Set(name, sub)
	h.logger.Info("webhook registered",
		"webhook", name,
		"channel", channel,
		"start_item", body.StartItem,
		"cursor", cursor,
	)

	go h.runSubscription(ctx, sub)
	sub.notify()

	writeJSON(w, http.StatusCreated, h.webhookView(r, sub))
}

func (h *Hub) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.webhooks.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, h.webhookView(r, sub))
}

func (h *Hub) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sub, ok := h.webhooks.Delete(name)
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	sub.stop()
	h.logger.Info("webhook deleted", "webhook", name)
	w.WriteHeader(http.StatusAccepted)
}

// startCursor maps a startItem policy to the index of the first item the
// subscription delivers.
func (h *Hub) startCursor(ch *Channel, startItem string) (int, bool) {
	n := ch.len()
	switch startItem {
	case "", "continue", "none":
		return n, true
	case "previous":
		return max(n-h.opts.ReplayCount, 0), true
	case "earliest":
		return 0, true
	}
	hash := startItem[strings.LastIndex(strings.TrimRight(startItem, "/"), "/")+1:]
	i, ok := ch.lookup(strings.TrimRight(hash, "/"))
	if !ok {
		return 0, false
	}
	return i + 1, true
}

func (h *Hub) runSubscription(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		}
		for {
			ch, ok := h.channels.Get(sub.channel)
			if !ok {
				break
			}
			sub.mu.Lock()
			it, ok := ch.at(sub.cursor)
			sub.mu.Unlock()
			if !ok {
				break
			}
			uri := sub.base + "/channel/" + sub.channel + "/" + it.Path()

			if h.opts.SkipDelivery == nil || !h.opts.SkipDelivery(uri) {
				if !h.deliver(ctx, sub, uri) {
					return
				}
			}
			sub.mu.Lock()
			sub.cursor++
			sub.mu.Unlock()
		}
	}
}

// deliver calls back until the callback answers 2xx. It returns false only
// when ctx is cancelled.
func (h *Hub) deliver(ctx context.Context, sub *subscription, uri string) bool {
	payload, _ := json.Marshal(map[string]any{
		"name": sub.name,
		"uris": []string{uri},
		"type": "item",
	})

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.body.CallbackURL, bytes.NewReader(payload))
		if err != nil {
			h.record(Delivery{Webhook: sub.name, URI: uri, URL: sub.body.CallbackURL, Error: err.Error(), Attempt: attempt, Timestamp: time.Now()})
			return false
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		d := Delivery{
			Webhook:   sub.name,
			URI:       uri,
			URL:       sub.body.CallbackURL,
			Attempt:   attempt,
			Timestamp: time.Now(),
		}
		if err != nil {
			d.Error = err.Error()
		} else {
			d.StatusCode = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		h.record(d)

		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			h.logger.Debug("webhook delivered", "webhook", sub.name, "uri", uri, "attempt", attempt)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.opts.RetryDelay):
		}
	}
}

func (h *Hub) record(d Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveries = append(h.deliveries, d)
}

func (h *Hub) webhookView(r *http.Request, sub *subscription) map[string]any {
	return map[string]any{
		"name":        sub.name,
		"callbackUrl": sub.body.CallbackURL,
		"channelUrl":  sub.body.ChannelURL,
		"startItem":   sub.body.StartItem,
		"_links": map[string]any{
			"self": map[string]string{"href": baseURL(r) + "/webhook/" + sub.name},
		},
	}
}

func readAll(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, 10<<20))
}
