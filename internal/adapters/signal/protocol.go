package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

// inbound is every client frame: {"id"?, "type", "data"?}. Frames with an id
// are answered by exactly one ack.
type inbound struct {
	ID   *uint64         `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type outbound struct {
	Type  string     `json:"type"`
	ID    *uint64    `json:"id,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

const typeAck = "ack"

func encode(o outbound) core.Frame {
	b, err := json.Marshal(o)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", o.Type).Msg("encode frame")
		b, _ = json.Marshal(outbound{Type: o.Type, ID: o.ID, Error: &wireError{Code: "internal", Message: "encode failed"}})
	}
	return b
}

func pushFrame(typ string, data any) core.Frame {
	return encode(outbound{Type: typ, Data: data})
}

func ackFrame(id *uint64, data any, err error) core.Frame {
	o := outbound{Type: typeAck, ID: id}
	if err != nil {
		o.Error = &wireError{Code: domain.Code(err), Message: err.Error()}
	} else {
		o.Data = data
	}
	return encode(o)
}

func parseInbound(data []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("%w: %w", domain.ErrBadPayload, err)
	}
	if in.Type == "" {
		return in, fmt.Errorf("missing type: %w", domain.ErrBadPayload)
	}
	return in, nil
}

// decode unmarshals a payload; an absent payload decodes to the zero value.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %w", domain.ErrBadPayload, err)
	}
	return v, nil
}

type handlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

var errUnknownType = errors.New("unknown message type")

// dispatch runs the handler for in and acks it. It reports whether the
// connection may keep going.
func dispatch(ctx context.Context, conn core.SignalConnection, handlers map[string]handlerFunc, in inbound, onError func(op string, err error)) bool {
	h, ok := handlers[in.Type]
	var (
		result any
		err    error
	)
	if ok {
		result, err = h(ctx, in.Data)
	} else {
		err = fmt.Errorf("%q: %w: %w", in.Type, errUnknownType, domain.ErrBadPayload)
	}
	if in.ID != nil {
		_ = conn.TrySend(ackFrame(in.ID, result, err))
	}
	if err == nil {
		return true
	}
	onError(in.Type, err)
	return !domain.Terminates(err)
}
