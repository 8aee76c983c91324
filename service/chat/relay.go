package chat

import (
	"context"
	"encoding/json"

	"ChatWave/logger"
	"ChatWave/service/natsx"
	"ChatWave/tools/errs"
)

// RelayEnvelope is one emit crossing the instance boundary. The registry
// stays local per process; only channel-addressed frames travel.
type RelayEnvelope struct {
	GatewayID   string          `json:"gatewayId"`
	Channels    []string        `json:"channels"`
	ExcludeUser string          `json:"excludeUser,omitempty"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data,omitempty"`
}

const (
	relayBiz     = "fanout"
	relaySubject = "chatwave.fanout"
)

// NatsRelay carries envelopes over a plain NATS subject. Every gateway
// subscribes without a queue group, so each instance sees every envelope
// and applies it to its own hub.
type NatsRelay struct {
	mgr *natsx.Manager
}

func NewNatsRelay(mgr *natsx.Manager) (*NatsRelay, error) {
	if mgr == nil {
		return nil, errs.ErrRelayGone
	}
	err := mgr.RegisterRoute(natsx.Route{
		Biz:     relayBiz,
		Subject: relaySubject,
		Mode:    natsx.Core,
	})
	if err != nil {
		return nil, err
	}
	return &NatsRelay{mgr: mgr}, nil
}

func (r *NatsRelay) PublishEmit(ctx context.Context, env *RelayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "marshal relay envelope")
	}
	return r.mgr.Publish(ctx, relayBiz, data, map[string]string{"gw": env.GatewayID})
}

// Start wires inbound envelopes into the server. Call once after NewServer.
func (r *NatsRelay) Start(s *Server) error {
	return r.mgr.Subscribe(relayBiz, func(ctx context.Context, msg natsx.Message) error {
		env := &RelayEnvelope{}
		if err := json.Unmarshal(msg.Data, env); err != nil {
			logger.Warnf("[relay] bad envelope on %s: %v", msg.Subject, err)
			return nil // poison frames are dropped, not redelivered
		}
		s.HandleRelay(env)
		return nil
	})
}
