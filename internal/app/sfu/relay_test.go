package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// chanSource yields queued packets and then the close error.
type chanSource struct {
	pkts chan *rtp.Packet
	err  error
}

func newChanSource() *chanSource {
	return &chanSource{pkts: make(chan *rtp.Packet, 16), err: io.EOF}
}

func (s *chanSource) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-s.pkts
	if !ok {
		return nil, s.err
	}
	return pkt, nil
}

type sink struct {
	mu   sync.Mutex
	seqs []uint16
	fail bool
}

func (s *sink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("closed pipe")
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: seq}}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRelayForwardsOnlyResumedTracks(t *testing.T) {
	m := NewRelayManager()
	src := newChanSource()
	ended := make(chan error, 1)
	relay := m.StartRelay(context.Background(), "p1", src, func(err error) { ended <- err })

	live, muted := &sink{}, &sink{}
	if _, ok := m.AddSubscriber("p1", "c-live", live, false); !ok {
		t.Fatal("no relay for p1")
	}
	mutedTrack, _ := m.AddSubscriber("p1", "c-muted", muted, true)

	src.pkts <- packet(1)
	waitUntil(t, func() bool { return live.count() == 1 })
	if muted.count() != 0 {
		t.Fatal("paused consumer received packets")
	}

	if !mutedTrack.MarkOk() {
		t.Fatal("resume failed")
	}
	src.pkts <- packet(2)
	waitUntil(t, func() bool { return muted.count() == 1 && live.count() == 2 })

	close(src.pkts)
	select {
	case err := <-ended:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("end err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not end")
	}
	<-relay.Done()
	if m.HasRelay("p1") {
		t.Fatal("ended relay still registered")
	}
	if mutedTrack.GetState() != TrackStateDelete {
		t.Fatalf("state = %v", mutedTrack.GetState())
	}
}

func TestRelayDropsFailingTrack(t *testing.T) {
	m := NewRelayManager()
	src := newChanSource()
	relay := m.StartRelay(context.Background(), "p1", src, nil)
	bad := &sink{fail: true}
	ot, _ := m.AddSubscriber("p1", "c-bad", bad, false)

	src.pkts <- packet(1)
	waitUntil(t, func() bool {
		_, ok := relay.outTrack("c-bad")
		return !ok
	})
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("state = %v", ot.GetState())
	}
	if ot.MarkOk() {
		t.Fatal("deleted track resumed")
	}
	m.StopRelay("p1")
	close(src.pkts)
}

func TestMarkSubscriberDelete(t *testing.T) {
	m := NewRelayManager()
	src := newChanSource()
	m.StartRelay(context.Background(), "p1", src, nil)
	ot, _ := m.AddSubscriber("p1", "c1", &sink{}, true)

	m.MarkSubscriberDelete("p1", "c1")
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("state = %v", ot.GetState())
	}
	if _, ok := m.AddSubscriber("p-missing", "c2", &sink{}, false); ok {
		t.Fatal("subscribed to missing producer")
	}
	m.StopRelay("p1")
	if m.HasRelay("p1") {
		t.Fatal("relay still registered")
	}
	close(src.pkts)
}
