package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
)

type recordingConn struct {
	frames []core.Frame
	closed bool
}

func (c *recordingConn) TrySend(f core.Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() { c.closed = true }

func decodeOutbound(t *testing.T, f core.Frame) frame {
	t.Helper()
	var out frame
	if err := json.Unmarshal(f, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", f, err)
	}
	return out
}

func TestAckFrame(t *testing.T) {
	id := uint64(7)

	ok := decodeOutbound(t, ackFrame(&id, map[string]int{"n": 1}, nil))
	if ok.Type != "ack" || ok.ID == nil || *ok.ID != 7 || ok.Error != nil {
		t.Fatalf("ack = %+v", ok)
	}
	if string(ok.Data) != `{"n":1}` {
		t.Fatalf("data = %s", ok.Data)
	}

	failed := decodeOutbound(t, ackFrame(&id, nil, fmt.Errorf("join: %w", domain.ErrInvalidChannel)))
	if failed.Error == nil || failed.Error.Code != "invalid_channel" {
		t.Fatalf("error ack = %+v", failed)
	}
	if failed.Data != nil {
		t.Fatalf("error ack carries data %s", failed.Data)
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"with id", `{"id":1,"type":"ping"}`, false},
		{"push", `{"type":"speaking","data":{"isSpeaking":true}}`, false},
		{"no type", `{"id":1}`, true},
		{"not json", `hello`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseInbound([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrBadPayload) {
				t.Fatalf("err = %v, want bad payload", err)
			}
		})
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	p, err := decode[joinPayload](nil)
	if err != nil || p.Channel != "" {
		t.Fatalf("decode(nil) = %+v, %v", p, err)
	}
	if _, err := decode[joinPayload](json.RawMessage(`{"channel":5}`)); !errors.Is(err, domain.ErrBadPayload) {
		t.Fatalf("decode(bad) err = %v", err)
	}
}

func TestDispatch(t *testing.T) {
	handlers := map[string]handlerFunc{
		"ok": func(context.Context, json.RawMessage) (any, error) { return "fine", nil },
		"deny": func(context.Context, json.RawMessage) (any, error) {
			return nil, domain.ErrNotAuthorizedToConsume
		},
	}
	id := uint64(3)

	tests := []struct {
		name     string
		in       inbound
		wantKeep bool
		wantAck  bool
		wantCode string
	}{
		{"ok", inbound{ID: &id, Type: "ok"}, true, true, ""},
		{"ok without id", inbound{Type: "ok"}, true, false, ""},
		{"unknown", inbound{ID: &id, Type: "nope"}, true, true, "bad_payload"},
		{"terminating", inbound{ID: &id, Type: "deny"}, false, true, "not_authorized_to_consume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &recordingConn{}
			var failedOps []string
			keep := dispatch(context.Background(), conn, handlers, tt.in, func(op string, _ error) {
				failedOps = append(failedOps, op)
			})
			if keep != tt.wantKeep {
				t.Fatalf("keep = %v, want %v", keep, tt.wantKeep)
			}
			if !tt.wantAck {
				if len(conn.frames) != 0 {
					t.Fatalf("frames = %d, want none", len(conn.frames))
				}
				return
			}
			if len(conn.frames) != 1 {
				t.Fatalf("frames = %d, want exactly one ack", len(conn.frames))
			}
			ack := decodeOutbound(t, conn.frames[0])
			gotCode := ""
			if ack.Error != nil {
				gotCode = ack.Error.Code
			}
			if gotCode != tt.wantCode {
				t.Fatalf("code = %q, want %q", gotCode, tt.wantCode)
			}
			if (tt.wantCode != "") != (len(failedOps) == 1) {
				t.Fatalf("onError calls = %v", failedOps)
			}
		})
	}
}

func TestDecodeJoinPayloadShapes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    domain.ChannelName
		wantErr bool
	}{
		{"object", `{"channel":"general"}`, "general", false},
		{"bare name", `"gaming"`, "gaming", false},
		{"number", `5`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decode[joinPayload](json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrBadPayload) {
				t.Fatalf("err = %v, want bad payload", err)
			}
			if p.Channel != tt.want {
				t.Fatalf("channel = %q, want %q", p.Channel, tt.want)
			}
		})
	}
}
