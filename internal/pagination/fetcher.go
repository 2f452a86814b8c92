// Package pagination verifies the hub's time-ordered pagination contract:
// stepping and batching backward/forward across an hour-bucket window must
// reproduce that window exactly, and the channel's earliest item must sit
// at the start of its retention window.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
)

// MinNowMillis is the lowest plausible hub clock reading (July 2015). A time
// link reporting less than this is treated as malformed.
const MinNowMillis int64 = 1435865512097

// Channel is the channel state a pagination run works against.
type Channel struct {
	Name         string
	URL          string
	TTLDays      int
	NowMillis    int64
	TimeLink     string
	EarliestLink string
}

// Now returns the hub clock reading as a UTC time.
func (c *Channel) Now() time.Time {
	return time.UnixMilli(c.NowMillis).UTC()
}

// Window is the ordered list of item URIs in one time bucket.
type Window struct {
	URL  string
	URIs []string
}

// Fetcher retrieves channel metadata and bucket windows. Every call is a
// single GET; any non-200 is returned as failure.CodeUnexpectedStatus.
type Fetcher struct {
	client *hubclient.Client
	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *hubclient.Client, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, logger: logger}
}

// FetchChannelInfo reads the channel resource. NowMillis is left zero; see
// FetchNow and LoadChannel.
func (f *Fetcher) FetchChannelInfo(ctx context.Context, channelURL string) (*Channel, error) {
	resp, err := f.client.Get(ctx, channelURL)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return nil, err
	}

	var info hubclient.ChannelInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	if info.TTLDays <= 0 {
		return nil, failure.Malformed(resp.Method, resp.URL, fmt.Errorf("ttlDays must be > 0, got %d", info.TTLDays))
	}
	if info.Links.Time.Href == "" || info.Links.Earliest.Href == "" {
		return nil, failure.Malformed(resp.Method, resp.URL, errors.New("channel is missing time or earliest link"))
	}

	return &Channel{
		Name:         info.Name,
		URL:          strings.TrimRight(channelURL, "/"),
		TTLDays:      info.TTLDays,
		TimeLink:     info.Links.Time.Href,
		EarliestLink: info.Links.Earliest.Href,
	}, nil
}

// FetchNow reads the hub clock from a channel time link, in epoch millis.
func (f *Fetcher) FetchNow(ctx context.Context, timeLink string) (int64, error) {
	resp, err := f.client.Get(ctx, timeLink)
	if err != nil {
		return 0, err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return 0, err
	}

	var ti hubclient.TimeInfo
	if err := resp.Decode(&ti); err != nil {
		return 0, err
	}
	if ti.Now.Millis <= MinNowMillis {
		return 0, failure.Malformed(resp.Method, resp.URL, fmt.Errorf("now.millis %d is implausibly old", ti.Now.Millis))
	}
	return ti.Now.Millis, nil
}

// LoadChannel fetches the channel resource and its clock.
func (f *Fetcher) LoadChannel(ctx context.Context, channelURL string) (*Channel, error) {
	ch, err := f.FetchChannelInfo(ctx, channelURL)
	if err != nil {
		return nil, err
	}
	now, err := f.FetchNow(ctx, ch.TimeLink)
	if err != nil {
		return nil, err
	}
	ch.NowMillis = now
	f.logger.Info("channel loaded", "channel", ch.URL, "ttl_days", ch.TTLDays, "now", ch.Now())
	return ch, nil
}

// WindowURL returns the minute-resolution bucket URL for t, in UTC.
func WindowURL(channelURL string, t time.Time) string {
	return strings.TrimRight(channelURL, "/") + "/" + t.UTC().Format("2006/01/02/15/04")
}

// FetchWindow reads the bucket containing t.
func (f *Fetcher) FetchWindow(ctx context.Context, channelURL string, t time.Time) (*Window, error) {
	url := WindowURL(channelURL, t)
	resp, err := f.client.Get(ctx, url)
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
	f.logger.Info("window fetched", "url", url, "items", len(list.Links.URIs))
	return &Window{URL: url, URIs: list.Links.URIs}, nil
}
