package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
)

// EvictionGranularity is the width of the band the earliest item may fall
// in past the retention cutoff; eviction runs per hour bucket.
const EvictionGranularity = time.Hour

// EarliestValidator checks the channel's earliest redirect against its
// retention window.
type EarliestValidator struct {
	client *hubclient.Client
	logger *slog.Logger
}

// NewEarliestValidator creates an EarliestValidator.
func NewEarliestValidator(client *hubclient.Client, logger *slog.Logger) *EarliestValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EarliestValidator{client: client, logger: logger}
}

// Validate requires cutoff <= earliest < cutoff+1h where cutoff is the hub
// clock minus ttlDays days.
func (v *EarliestValidator) Validate(ctx context.Context, ch *Channel) error {
	resp, err := v.client.GetNoRedirect(ctx, ch.EarliestLink)
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusSeeOther); err != nil {
		return err
	}

	earliest, err := ParseItemTime(ch.URL, resp.Location())
	if err != nil {
		return failure.Malformed(resp.Method, resp.URL, err)
	}

	lower, upper := RetentionBand(ch)
	v.logger.Info("earliest",
		"location", resp.Location(),
		"earliest", earliest,
		"cutoff", lower,
	)
	if earliest.Before(lower) || !earliest.Before(upper) {
		return failure.Boundary(failure.ContractEarliestBoundary, earliest, lower, upper)
	}
	return nil
}

// RetentionBand returns [cutoff, cutoff+EvictionGranularity) for a channel.
func RetentionBand(ch *Channel) (time.Time, time.Time) {
	cutoff := ch.Now().AddDate(0, 0, -ch.TTLDays)
	return cutoff, cutoff.Add(EvictionGranularity)
}

// ParseItemTime extracts the timestamp from an item URI of the form
// <channelURL>/YYYY/MM/DD/HH/mm/ss/SSS/<hash>. Only the paths are compared,
// so a Location on a different host still parses.
func ParseItemTime(channelURL, itemURI string) (time.Time, error) {
	chURL, err := url.Parse(channelURL)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing channel url: %w", err)
	}
	itemURL, err := url.Parse(itemURI)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing item uri: %w", err)
	}

	prefix := strings.TrimRight(chURL.Path, "/")
	rest, ok := strings.CutPrefix(itemURL.Path, prefix+"/")
	if !ok {
		return time.Time{}, fmt.Errorf("item %q is not under channel %q", itemURI, channelURL)
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	// Seven time segments plus the hash key.
	if len(parts) != 8 {
		return time.Time{}, fmt.Errorf("item path %q: expected YYYY/MM/DD/HH/mm/ss/SSS/<hash>", rest)
	}

	var f [7]int
	for i, p := range parts[:7] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("item path %q: segment %d: %w", rest, i, err)
		}
		f[i] = n
	}

	t := time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], f[6]*int(time.Millisecond), time.UTC)
	if t.Year() != f[0] || int(t.Month()) != f[1] || t.Day() != f[2] || t.Hour() != f[3] ||
		t.Minute() != f[4] || t.Second() != f[5] || f[6] < 0 || f[6] > 999 {
		return time.Time{}, errors.New("item path " + strconv.Quote(rest) + ": time segments out of range")
	}
	return t, nil
}
