package rtc

import (
	"errors"
	"reflect"
	"testing"

	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/pion/webrtc/v4"
)

func TestParseFmtp(t *testing.T) {
	got := parseFmtp("minptime=10; useinbandfec=1;stereo")
	want := map[string]string{"minptime": "10", "useinbandfec": "1", "stereo": ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseFmtp = %v", got)
	}
	if parseFmtp("") != nil {
		t.Fatal("empty line must give nil")
	}
}

func TestRouterCapabilities(t *testing.T) {
	caps := routerCapabilities([]webrtc.RTPCodecParameters{opusCodec})
	if len(caps.Codecs) != 1 {
		t.Fatalf("codecs = %d", len(caps.Codecs))
	}
	c := caps.Codecs[0]
	if c.Kind != domain.KindAudio || c.MimeType != webrtc.MimeTypeOpus || c.PreferredPayloadType != 111 || c.ClockRate != 48000 || c.Channels != 2 {
		t.Fatalf("codec = %+v", c)
	}
	if c.Parameters["useinbandfec"] != "1" {
		t.Fatalf("parameters = %v", c.Parameters)
	}
}

func TestCanConsume(t *testing.T) {
	tests := []struct {
		name string
		caps domain.RtpCapabilities
		want bool
	}{
		{"opus lowercase", domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{{MimeType: "audio/opus", ClockRate: 48000}}}, true},
		{"opus other rate", domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{{MimeType: "audio/opus", ClockRate: 16000}}}, false},
		{"pcmu only", domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{{MimeType: "audio/PCMU", ClockRate: 8000}}}, false},
		{"empty", domain.RtpCapabilities{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canConsume(opusCodec.RTPCodecCapability, tt.caps); got != tt.want {
				t.Fatalf("canConsume = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReceiveParameters(t *testing.T) {
	rtp := domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/OPUS", PayloadType: 100, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 1111}},
	}
	params, codec, err := receiveParameters(rtp, []webrtc.RTPCodecParameters{opusCodec})
	if err != nil {
		t.Fatal(err)
	}
	enc := params.Encodings[0].RTPCodingParameters
	if enc.SSRC != 1111 || enc.PayloadType != 100 || codec.PayloadType != 100 {
		t.Fatalf("params = %+v, codec pt = %d", enc, codec.PayloadType)
	}

	if _, _, err := receiveParameters(domain.RtpParameters{Codecs: rtp.Codecs}, []webrtc.RTPCodecParameters{opusCodec}); !errors.Is(err, errMissingSSRC) {
		t.Fatalf("missing ssrc err = %v", err)
	}
	vp8 := domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 1}},
	}
	if _, _, err := receiveParameters(vp8, []webrtc.RTPCodecParameters{opusCodec}); !errors.Is(err, domain.ErrIncompatibleCapabilities) {
		t.Fatalf("vp8 err = %v", err)
	}
}

func TestICECandidatesRoundTrip(t *testing.T) {
	in := []domain.IceCandidate{{
		Foundation: "1", Priority: 2130706431, Address: "203.0.113.7", Protocol: "udp", Port: 40000, Type: "host",
	}}
	cands, err := remoteICECandidates(in)
	if err != nil {
		t.Fatal(err)
	}
	if cands[0].Protocol != webrtc.ICEProtocolUDP || cands[0].Typ != webrtc.ICECandidateTypeHost {
		t.Fatalf("candidate = %+v", cands[0])
	}
	if got := iceCandidates(cands); !reflect.DeepEqual(got, in) {
		t.Fatalf("round trip = %+v", got)
	}

	if _, err := remoteICECandidates([]domain.IceCandidate{{Protocol: "sctp", Type: "host"}}); err == nil {
		t.Fatal("bad protocol accepted")
	}
	if _, err := remoteICECandidates([]domain.IceCandidate{{Protocol: "udp", Type: "bogus"}}); err == nil {
		t.Fatal("bad type accepted")
	}
}

func TestRemoteDTLSParameters(t *testing.T) {
	fp := []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}}
	tests := []struct {
		role    string
		want    webrtc.DTLSRole
		wantErr bool
	}{
		{"", webrtc.DTLSRoleAuto, false},
		{"auto", webrtc.DTLSRoleAuto, false},
		{"client", webrtc.DTLSRoleClient, false},
		{"Server", webrtc.DTLSRoleServer, false},
		{"both", 0, true},
	}
	for _, tt := range tests {
		got, err := remoteDTLSParameters(domain.DtlsParameters{Role: tt.role, Fingerprints: fp})
		if (err != nil) != tt.wantErr {
			t.Errorf("role %q: err = %v", tt.role, err)
			continue
		}
		if !tt.wantErr && (got.Role != tt.want || got.Fingerprints[0].Value != "AA:BB") {
			t.Errorf("role %q: got %+v", tt.role, got)
		}
	}
	if _, err := remoteDTLSParameters(domain.DtlsParameters{Role: "client"}); err == nil {
		t.Fatal("missing fingerprint accepted")
	}
}
