package natsx

import (
	"context"
	"fmt"
)

type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

// Publish sends by biz route.
func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	switch r.Mode {
	case Core:
		return p.c.sendCore(r.Subject, data, hdr)
	case JetStreamPush:
		return p.c.sendJS(r.Subject, data, hdr, "")
	default:
		return fmt.Errorf("unsupported mode")
	}
}

// PublishOnce sends with a Nats-Msg-Id so JetStream dedupes replays. Core
// routes fall back to a plain publish.
func (p *Producer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	if r.Mode == JetStreamPush {
		return p.c.sendJS(r.Subject, data, hdr, msgID)
	}
	return p.c.sendCore(r.Subject, data, hdr)
}
