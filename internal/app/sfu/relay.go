package sfu

import (
	"context"
	"errors"
	"io"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource is the remote side of a producer.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Relay copies the packets of one producer to every consumer of it.
type Relay struct {
	ProducerID string
	Src        PacketSource

	mu        sync.RWMutex
	outTracks map[string]*OutTrack

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(producerID string, src PacketSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		ProducerID: producerID,
		Src:        src,
		outTracks:  make(map[string]*OutTrack),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// loop forwards packets until ctx is done or the source fails, then marks
// every out-track for delete and reports why it stopped.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger, onEnd func(error)) {
	defer close(r.done)
	var err error
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			if onEnd != nil {
				onEnd(nil)
			}
			return
		default:
		}
		var pkt *rtp.Packet
		pkt, err = r.Src.ReadRTP()
		if err != nil {
			break
		}
		r.forward(pkt, logger)
	}
	if errors.Is(err, io.EOF) {
		logger.Info().Msg("relay source ended")
	} else {
		logger.Error().Err(err).Msg("relay read RTP error, stopping")
	}
	r.markAllDelete()
	if onEnd != nil {
		onEnd(err)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for consumerID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, consumerID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer", consumerID).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *Relay) outTrack(consumerID string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[consumerID]
	return ot, ok
}

// Done is closed once the forwarding loop returned.
func (r *Relay) Done() <-chan struct{} { return r.done }
