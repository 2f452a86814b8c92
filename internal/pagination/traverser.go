package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
)

// Direction is a pagination relation.
type Direction string

const (
	// Next moves strictly later in time.
	Next Direction = "next"
	// Previous moves strictly earlier in time.
	Previous Direction = "previous"
)

// ErrEmptyWindow is returned when a round trip is asked for over no items.
var ErrEmptyWindow = errors.New("pagination: window has no items")

// Traverser walks single-step and batch previous/next relations.
type Traverser struct {
	client *hubclient.Client
	logger *slog.Logger
}

// NewTraverser creates a Traverser.
func NewTraverser(client *hubclient.Client, logger *slog.Logger) *Traverser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Traverser{client: client, logger: logger}
}

// PreviousOf returns the item immediately before uri.
func (t *Traverser) PreviousOf(ctx context.Context, uri string) (string, error) {
	return t.step(ctx, uri, Previous)
}

// NextOf returns the item immediately after uri.
func (t *Traverser) NextOf(ctx context.Context, uri string) (string, error) {
	return t.step(ctx, uri, Next)
}

// step requests uri/<dir> without following the redirect and returns the
// Location header verbatim. Only 303 is accepted.
func (t *Traverser) step(ctx context.Context, uri string, dir Direction) (string, error) {
	url := strings.TrimRight(uri, "/") + "/" + string(dir)
	resp, err := t.client.GetNoRedirect(ctx, url)
	if err != nil {
		return "", err
	}
	if err := resp.Expect(http.StatusSeeOther); err != nil {
		return "", err
	}
	loc := resp.Location()
	if loc == "" {
		return "", failure.Malformed(resp.Method, resp.URL, errors.New("303 without Location header"))
	}
	t.logger.Debug("step", "direction", dir, "from", uri, "to", loc)
	return loc, nil
}

// Batch returns up to count items strictly beyond anchor in dir, always in
// ascending chronological order and never including anchor itself.
func (t *Traverser) Batch(ctx context.Context, anchor string, dir Direction, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("pagination: batch count must be positive, got %d", count)
	}
	url := fmt.Sprintf("%s/%s/%d", strings.TrimRight(anchor, "/"), dir, count)
	resp, err := t.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return nil, err
	}

	var list hubclient.URIList
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	t.logger.Debug("batch", "direction", dir, "anchor", anchor, "count", count, "returned", len(list.Links.URIs))
	return list.Links.URIs, nil
}

// VerifyForward checks batch(previousOf(W[0]), next, len(W)) == W.
func (t *Traverser) VerifyForward(ctx context.Context, window []string) error {
	if len(window) == 0 {
		return ErrEmptyWindow
	}
	anchor, err := t.PreviousOf(ctx, window[0])
	if err != nil {
		return err
	}
	return t.verifyBatch(ctx, anchor, Next, window)
}

// VerifyBackward checks batch(nextOf(W[k-1]), previous, len(W)) == W.
func (t *Traverser) VerifyBackward(ctx context.Context, window []string) error {
	if len(window) == 0 {
		return ErrEmptyWindow
	}
	anchor, err := t.NextOf(ctx, window[len(window)-1])
	if err != nil {
		return err
	}
	return t.verifyBatch(ctx, anchor, Previous, window)
}

func (t *Traverser) verifyBatch(ctx context.Context, anchor string, dir Direction, window []string) error {
	got, err := t.Batch(ctx, anchor, dir, len(window))
	if err != nil {
		return err
	}
	return failure.Compare(failure.ContractPaginationIdentity, window, got)
}
