// Package metrics holds the prometheus collectors of the voice service.
// A nil *Voice is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Voice struct {
	roomMembers     *prometheus.GaugeVec
	producers       prometheus.Gauge
	consumers       prometheus.Gauge
	joins           *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	signalingErrors *prometheus.CounterVec
}

func NewVoice(reg prometheus.Registerer) *Voice {
	v := &Voice{
		roomMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voice_room_members",
			Help: "Users currently joined to a channel's voice room.",
		}, []string{"channel"}),
		producers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_producers",
			Help: "Live voice producers.",
		}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_consumers",
			Help: "Live consumers held against voice producers.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_joins_total",
			Help: "Voice join requests by result.",
		}, []string{"result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_tokens_total",
			Help: "Connection token lifecycle events.",
		}, []string{"outcome"}),
		signalingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_errors_total",
			Help: "Failed signaling operations by operation and error code.",
		}, []string{"op", "code"}),
	}
	reg.MustRegister(v.roomMembers, v.producers, v.consumers, v.joins, v.tokens, v.signalingErrors)
	return v
}

func (v *Voice) SetRoomMembers(channel string, n int) {
	if v == nil {
		return
	}
	v.roomMembers.WithLabelValues(channel).Set(float64(n))
}

func (v *Voice) SetMedia(producers, consumers int) {
	if v == nil {
		return
	}
	v.producers.Set(float64(producers))
	v.consumers.Set(float64(consumers))
}

func (v *Voice) Join(result string) {
	if v == nil {
		return
	}
	v.joins.WithLabelValues(result).Inc()
}

func (v *Voice) Token(outcome string) {
	if v == nil {
		return
	}
	v.tokens.WithLabelValues(outcome).Inc()
}

func (v *Voice) SignalingError(op, code string) {
	if v == nil {
		return
	}
	v.signalingErrors.WithLabelValues(op, code).Inc()
}
