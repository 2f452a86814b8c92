// Package channelcheck holds the one-shot channel CRUD checks: creating a
// channel with a description, and creating then patching a channel with a
// null ttlMillis.
package channelcheck

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/hubverify/internal/failure"
	"github.com/wondertwin-ai/hubverify/internal/hubclient"
	"github.com/wondertwin-ai/hubverify/internal/suite"
)

// DefaultDescription is the description written when none is configured.
const DefaultDescription = "describe me"

// Options configures the checks.
type Options struct {
	HubURL      string
	Description string
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.Description == "" {
		o.Description = DefaultDescription
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func randomName(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// ----------------------------------------------------------------------------
// Description
// ----------------------------------------------------------------------------

// DescriptionCheck creates a channel with a description and reads it back.
type DescriptionCheck struct {
	opts   Options
	client *hubclient.Client
}

// NewDescriptionCheck creates a DescriptionCheck.
func NewDescriptionCheck(client *hubclient.Client, opts Options) *DescriptionCheck {
	opts.defaults()
	return &DescriptionCheck{opts: opts, client: client}
}

// Name implements suite.Check.
func (c *DescriptionCheck) Name() string { return "channel creation with description" }

// Run implements suite.Check.
func (c *DescriptionCheck) Run(ctx context.Context, rec *suite.Recorder) (err error) {
	name := randomName("hubverify_desc_")
	url := hubclient.ChannelURL(c.opts.HubURL, name)
	created := false

	defer func() {
		if created {
			if derr := rec.Step("deletes channel", func() error {
				return deleteChannel(context.WithoutCancel(ctx), c.client, url)
			}); err == nil {
				err = derr
			}
		}
	}()

	if err := rec.Step("channel does not exist yet", func() error {
		return expectAbsent(ctx, c.client, url)
	}); err != nil {
		return err
	}

	if err := rec.Step("creates channel with description", func() error {
		resp, err := c.client.PostJSON(ctx, channelsURL(c.opts.HubURL), hubclient.ChannelConfig{
			Name:        name,
			Description: c.opts.Description,
		})
		if err != nil {
			return err
		}
		if err := resp.Expect(http.StatusCreated); err != nil {
			return err
		}
		created = true
		c.opts.Logger.Info("channel created", "channel", name, "description", c.opts.Description)
		var info hubclient.ChannelInfo
		if err := resp.Decode(&info); err != nil {
			return err
		}
		if info.Description != c.opts.Description {
			return failure.Mismatch(resp.Method, resp.URL, "description", c.opts.Description, info.Description)
		}
		return nil
	}); err != nil {
		return err
	}

	return rec.Step("channel exists with description", func() error {
		resp, err := c.client.Get(ctx, url)
		if err != nil {
			return err
		}
		info, err := decodeChannel(resp)
		if err != nil {
			return err
		}
		if info.Name != name {
			return failure.Mismatch(resp.Method, resp.URL, "name", name, info.Name)
		}
		if info.Description != c.opts.Description {
			return failure.Mismatch(resp.Method, resp.URL, "description", c.opts.Description, info.Description)
		}
		return nil
	})
}

// ----------------------------------------------------------------------------
// TTL
// ----------------------------------------------------------------------------

// TTLNullCheck creates a channel with "ttlMillis": null and then patches the
// same value onto it.
type TTLNullCheck struct {
	opts   Options
	client *hubclient.Client
}

// NewTTLNullCheck creates a TTLNullCheck.
func NewTTLNullCheck(client *hubclient.Client, opts Options) *TTLNullCheck {
	opts.defaults()
	return &TTLNullCheck{opts: opts, client: client}
}

// Name implements suite.Check.
func (c *TTLNullCheck) Name() string { return "channel patch with null ttl" }

// Run implements suite.Check.
func (c *TTLNullCheck) Run(ctx context.Context, rec *suite.Recorder) (err error) {
	name := randomName("hubverify_ttl_")
	url := hubclient.ChannelURL(c.opts.HubURL, name)
	created := false

	defer func() {
		if created {
			if derr := rec.Step("deletes channel", func() error {
				return deleteChannel(context.WithoutCancel(ctx), c.client, url)
			}); err == nil {
				err = derr
			}
		}
	}()

	if err := rec.Step("channel does not exist yet", func() error {
		return expectAbsent(ctx, c.client, url)
	}); err != nil {
		return err
	}

	if err := rec.Step("creates channel with null ttl", func() error {
		resp, err := c.client.PostJSON(ctx, channelsURL(c.opts.HubURL), map[string]any{
			"name":      name,
			"ttlMillis": nil,
		})
		if err != nil {
			return err
		}
		if err := resp.Expect(http.StatusCreated); err != nil {
			return err
		}
		created = true
		c.opts.Logger.Info("channel created", "channel", name, "ttl_millis", nil)
		return nil
	}); err != nil {
		return err
	}

	return rec.Step("patches ttl to null", func() error {
		resp, err := c.client.PatchJSON(ctx, url, map[string]any{"ttlMillis": nil})
		if err != nil {
			return err
		}
		info, err := decodeChannel(resp)
		if err != nil {
			return err
		}
		if info.Name != name {
			return failure.Mismatch(resp.Method, resp.URL, "name", name, info.Name)
		}
		return nil
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func channelsURL(hubURL string) string {
	return strings.TrimRight(hubURL, "/") + "/channel"
}

func expectAbsent(ctx context.Context, client *hubclient.Client, url string) error {
	resp, err := client.Get(ctx, url)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusNotFound)
}

// decodeChannel requires a 200 JSON channel body.
func decodeChannel(resp *hubclient.Response) (*hubclient.ChannelInfo, error) {
	if err := resp.Expect(http.StatusOK); err != nil {
		return nil, err
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil, failure.Mismatch(resp.Method, resp.URL, "content-type", "application/json", resp.Header.Get("Content-Type"))
	}
	var info hubclient.ChannelInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	if info.Name == "" {
		return nil, failure.Malformed(resp.Method, resp.URL, errors.New("channel body has no name"))
	}
	return &info, nil
}

func deleteChannel(ctx context.Context, client *hubclient.Client, url string) error {
	resp, err := client.Delete(ctx, url)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusAccepted)
}
