package hubclient

// Link is a HAL-style link object.
type Link struct {
	Href string `json:"href"`
}

// ChannelLinks are the relations exposed on a channel resource.
type ChannelLinks struct {
	Self     Link `json:"self"`
	Latest   Link `json:"latest"`
	Earliest Link `json:"earliest"`
	Time     Link `json:"time"`
}

// ChannelInfo is the body of GET /channel/{name}.
type ChannelInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	TTLDays     int          `json:"ttlDays"`
	Links       ChannelLinks `json:"_links"`
}

// TimeInfo is the body of a channel's time link.
type TimeInfo struct {
	Now struct {
		Millis int64 `json:"millis"`
	} `json:"now"`
}

// URIList is the body of hour-bucket and batch previous/next responses.
type URIList struct {
	Links struct {
		URIs []string `json:"uris"`
	} `json:"_links"`
}

// PostedItem is the body returned when an item is posted to a channel.
type PostedItem struct {
	Links struct {
		Self Link `json:"self"`
	} `json:"_links"`
}

// ChannelConfig is the body used to create a channel.
type ChannelConfig struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

// WebhookConfig is the body of PUT /webhook/{name}.
type WebhookConfig struct {
	CallbackURL   string `json:"callbackUrl"`
	ChannelURL    string `json:"channelUrl"`
	StartItem     string `json:"startItem,omitempty"`
	ParallelCalls int    `json:"parallelCalls,omitempty"`
	Batch         string `json:"batch,omitempty"`
}

// Delivery is the body the hub POSTs to a webhook callback.
type Delivery struct {
	Name string   `json:"name"`
	URIs []string `json:"uris"`
	Type string   `json:"type,omitempty"`
}
