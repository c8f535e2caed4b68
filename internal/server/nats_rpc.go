package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"WagerLedger/internal/coordinator"
	"WagerLedger/internal/material"
	"WagerLedger/internal/observability"
)

// RPC subjects. Requests are queue-subscribed so multiple instances share
// the load.
const (
	rpcQueue = "wagerledger"

	SubjectSubmit  = "wager.rpc.submit"
	SubjectAccept  = "wager.rpc.accept"
	SubjectCancel  = "wager.rpc.cancel"
	SubjectDecline = "wager.rpc.decline"
	SubjectGet     = "wager.rpc.get"
)

// rpcHandlerTimeout bounds one request-reply handler end to end.
const rpcHandlerTimeout = 10 * time.Second

// rpcRequest is the common envelope for all five operations; material and
// count are only read by submit.
type rpcRequest struct {
	PlayerID     string `json:"player_id"`
	MatchContext string `json:"match_context"`
	MatchID      string `json:"match_id"`
	Material     string `json:"material,omitempty"`
	Count        int64  `json:"count,omitempty"`
}

type rpcResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Body   any    `json:"body,omitempty"`
}

// RPC serves the player operations over NATS request-reply, the low-latency
// in-cluster twin of the HTTP API.
type RPC struct {
	nc      *nats.Conn
	coord   *coordinator.Coordinator
	metrics *observability.Metrics
	log     zerolog.Logger
	subs    []*nats.Subscription
}

func NewRPC(nc *nats.Conn, coord *coordinator.Coordinator, metrics *observability.Metrics, log zerolog.Logger) *RPC {
	return &RPC{nc: nc, coord: coord, metrics: metrics, log: log}
}

// Start registers all queue subscriptions.
func (r *RPC) Start() error {
	handlers := map[string]func(context.Context, rpcRequest) (any, error){
		SubjectSubmit:  r.submit,
		SubjectAccept:  r.accept,
		SubjectCancel:  r.cancel,
		SubjectDecline: r.decline,
		SubjectGet:     r.get,
	}
	for subject, handler := range handlers {
		sub, err := r.nc.QueueSubscribe(subject, rpcQueue, r.wrap(subject, handler))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	r.log.Info().Int("subjects", len(handlers)).Msg("rpc handlers registered")
	return nil
}

// Stop drains the subscriptions so in-flight handlers finish.
func (r *RPC) Stop() {
	for _, sub := range r.subs {
		sub.Drain()
	}
}

func (r *RPC) wrap(subject string, handler func(context.Context, rpcRequest) (any, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		started := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), rpcHandlerTimeout)
		defer cancel()

		var req rpcRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			r.respond(msg, subject, rpcResponse{OK: false, Reason: reasonInvalidArgument})
			r.metrics.RPCRequests.WithLabelValues(subject, reasonInvalidArgument).Inc()
			return
		}

		body, err := handler(ctx, req)
		if err != nil {
			reason := reasonFor(err)
			if reason == reasonInternal {
				r.log.Error().Err(err).Str("subject", subject).Msg("rpc handler failed")
			}
			r.respond(msg, subject, rpcResponse{OK: false, Reason: reason})
			r.metrics.RPCRequests.WithLabelValues(subject, reason).Inc()
			r.metrics.RPCDuration.WithLabelValues(subject).Observe(time.Since(started).Seconds())
			return
		}

		r.respond(msg, subject, rpcResponse{OK: true, Body: body})
		r.metrics.RPCRequests.WithLabelValues(subject, "ok").Inc()
		r.metrics.RPCDuration.WithLabelValues(subject).Observe(time.Since(started).Seconds())
	}
}

func (r *RPC) respond(msg *nats.Msg, subject string, resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		r.log.Error().Err(err).Str("subject", subject).Msg("marshal rpc response")
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Warn().Err(err).Str("subject", subject).Msg("rpc respond failed")
	}
}

func (r *RPC) submit(ctx context.Context, req rpcRequest) (any, error) {
	kind, ok := material.ParseKind(req.Material)
	if !ok {
		return nil, coordinator.ErrInvalidArgument
	}
	res, err := r.coord.Submit(ctx, req.PlayerID, req.MatchContext, req.MatchID, kind, req.Count)
	if err != nil {
		return nil, err
	}
	return map[string]any{"granted_count": res.Granted}, nil
}

func (r *RPC) accept(ctx context.Context, req rpcRequest) (any, error) {
	res, err := r.coord.Accept(ctx, req.PlayerID, req.MatchContext, req.MatchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accepted_count": res.Accepted, "agreement": res.Agreement}, nil
}

func (r *RPC) cancel(ctx context.Context, req rpcRequest) (any, error) {
	res, err := r.coord.Cancel(ctx, req.PlayerID, req.MatchContext, req.MatchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"released_material": string(res.Material), "released_count": res.Count}, nil
}

func (r *RPC) decline(ctx context.Context, req rpcRequest) (any, error) {
	res, err := r.coord.Decline(ctx, req.PlayerID, req.MatchContext, req.MatchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"released_material": string(res.Material), "released_count": res.Count}, nil
}

func (r *RPC) get(ctx context.Context, req rpcRequest) (any, error) {
	slot, err := r.coord.Slot(ctx, req.PlayerID, req.MatchContext, req.MatchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"slot": slot}, nil
}
