package natsx

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Mode selects the delivery guarantees for a route.
type Mode int

const (
	Core          Mode = iota // plain NATS, no persistence
	JetStreamPush             // JetStream push subscription
)

// Route binds a business key to a subject, mode and consumer settings.
type Route struct {
	Biz           string
	Subject       string
	Mode          Mode
	Queue         string // queue group (empty = broadcast to every subscriber)
	Durable       string // JetStream durable name
	AckWait       time.Duration
	MaxAckPending int
}

// Config for the shared NATS client.
type Config struct {
	Servers         []string
	Name            string
	Username        string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	EnableJetStream bool
}

type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]Route              // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		nc:     nc,
		routes: make(map[string]Route),
		subs:   make(map[string]*nats.Subscription),
	}
	if cfg.EnableJetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, err
		}
		c.js = js
	}
	return c, nil
}

// Close drains subscriptions before closing the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("route biz/subject missing")
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

func (c *Client) sendCore(subject string, data []byte, hdr map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: mapToHeader(hdr)}
	return c.nc.PublishMsg(msg)
}

func (c *Client) sendJS(subject string, data []byte, hdr map[string]string, msgID string) error {
	if c.js == nil {
		return errors.New("jetstream not initialized")
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: mapToHeader(hdr)}
	var opts []nats.PubOpt
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	_, err := c.js.PublishMsg(msg, opts...)
	return err
}

func mapToHeader(m map[string]string) nats.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(nats.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
