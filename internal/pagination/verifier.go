package pagination

import (
	"context"
	"log/slog"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/hubclient"
	"github.com/wondertwin-ai/hubverify/internal/suite"
)

// DefaultWindowOffset is how far behind the hub clock the verified bucket
// sits. Two days back keeps it clear of in-flight writes.
const DefaultWindowOffset = 48 * time.Hour

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	ChannelURL   string
	WindowOffset time.Duration
	Logger       *slog.Logger
}

// Verifier is the round-trip identity check: fetch a bucket, then step
// outside it in each direction and batch back across it.
type Verifier struct {
	opts      VerifierOptions
	fetcher   *Fetcher
	traverser *Traverser
}

// NewVerifier creates a Verifier.
func NewVerifier(client *hubclient.Client, opts VerifierOptions) *Verifier {
	if opts.WindowOffset <= 0 {
		opts.WindowOffset = DefaultWindowOffset
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Verifier{
		opts:      opts,
		fetcher:   NewFetcher(client, opts.Logger),
		traverser: NewTraverser(client, opts.Logger),
	}
}

// Name implements suite.Check.
func (v *Verifier) Name() string { return "pagination round trip" }

// Run implements suite.Check.
func (v *Verifier) Run(ctx context.Context, rec *suite.Recorder) error {
	var (
		ch       *Channel
		window   *Window
		previous string
		next     string
	)

	if err := rec.Step("loads channel info", func() (err error) {
		ch, err = v.fetcher.LoadChannel(ctx, v.opts.ChannelURL)
		return err
	}); err != nil {
		return err
	}

	if err := rec.Step("gets window", func() (err error) {
		window, err = v.fetcher.FetchWindow(ctx, ch.URL, ch.Now().Add(-v.opts.WindowOffset))
		if err == nil && len(window.URIs) == 0 {
			err = ErrEmptyWindow
		}
		return err
	}); err != nil {
		return err
	}
	k := len(window.URIs)

	if err := rec.Step("gets previous of first item", func() (err error) {
		previous, err = v.traverser.PreviousOf(ctx, window.URIs[0])
		return err
	}); err != nil {
		return err
	}

	if err := rec.Step("gets next N from previous", func() error {
		return v.traverser.verifyBatch(ctx, previous, Next, window.URIs)
	}); err != nil {
		return err
	}

	if err := rec.Step("gets next of last item", func() (err error) {
		next, err = v.traverser.NextOf(ctx, window.URIs[k-1])
		return err
	}); err != nil {
		return err
	}

	return rec.Step("gets previous N from next", func() error {
		return v.traverser.verifyBatch(ctx, next, Previous, window.URIs)
	})
}

// EarliestCheck validates the earliest redirect of a channel as its own
// suite check.
type EarliestCheck struct {
	channelURL string
	fetcher    *Fetcher
	validator  *EarliestValidator
}

// NewEarliestCheck creates an EarliestCheck.
func NewEarliestCheck(client *hubclient.Client, channelURL string, logger *slog.Logger) *EarliestCheck {
	return &EarliestCheck{
		channelURL: channelURL,
		fetcher:    NewFetcher(client, logger),
		validator:  NewEarliestValidator(client, logger),
	}
}

// Name implements suite.Check.
func (c *EarliestCheck) Name() string { return "earliest boundary" }

// Run implements suite.Check.
func (c *EarliestCheck) Run(ctx context.Context, rec *suite.Recorder) error {
	var ch *Channel
	if err := rec.Step("loads channel info", func() (err error) {
		ch, err = c.fetcher.LoadChannel(ctx, c.channelURL)
		return err
	}); err != nil {
		return err
	}
	return rec.Step("gets earliest", func() error {
		return c.validator.Validate(ctx, ch)
	})
}
