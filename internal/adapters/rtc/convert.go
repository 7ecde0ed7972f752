package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/pion/webrtc/v4"
)

// opusCodec is the only codec the router forwards.
var opusCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	},
	PayloadType: 111,
}

var errMissingSSRC = errors.New("rtp parameters carry no ssrc")

func parseFmtp(line string) map[string]string {
	if line == "" {
		return nil
	}
	out := make(map[string]string)
	for _, kv := range strings.Split(line, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

func routerCapabilities(codecs []webrtc.RTPCodecParameters) domain.RtpCapabilities {
	caps := domain.RtpCapabilities{Codecs: make([]domain.RtpCodecCapability, 0, len(codecs))}
	for _, c := range codecs {
		caps.Codecs = append(caps.Codecs, domain.RtpCodecCapability{
			Kind:                 kindOf(c.MimeType),
			MimeType:             c.MimeType,
			PreferredPayloadType: uint8(c.PayloadType),
			ClockRate:            c.ClockRate,
			Channels:             c.Channels,
			Parameters:           parseFmtp(c.SDPFmtpLine),
		})
	}
	return caps
}

func kindOf(mime string) domain.MediaKind {
	if strings.HasPrefix(strings.ToLower(mime), "video/") {
		return domain.KindVideo
	}
	return domain.KindAudio
}

// canConsume reports whether a device with caps can decode codec.
func canConsume(codec webrtc.RTPCodecCapability, caps domain.RtpCapabilities) bool {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) && c.ClockRate == codec.ClockRate {
			return true
		}
	}
	return false
}

func codecParameters(c webrtc.RTPCodecParameters) domain.RtpCodecParameters {
	return domain.RtpCodecParameters{
		MimeType:    c.MimeType,
		PayloadType: uint8(c.PayloadType),
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		Parameters:  parseFmtp(c.SDPFmtpLine),
	}
}

// receiveParameters maps what a client announced on produce onto the
// router codec it must be using.
func receiveParameters(rtp domain.RtpParameters, router []webrtc.RTPCodecParameters) (webrtc.RTPReceiveParameters, webrtc.RTPCodecParameters, error) {
	if len(rtp.Encodings) == 0 || rtp.Encodings[0].Ssrc == 0 {
		return webrtc.RTPReceiveParameters{}, webrtc.RTPCodecParameters{}, errMissingSSRC
	}
	for _, offered := range rtp.Codecs {
		for _, c := range router {
			if !strings.EqualFold(offered.MimeType, c.MimeType) || offered.ClockRate != c.ClockRate {
				continue
			}
			c.PayloadType = webrtc.PayloadType(offered.PayloadType)
			return webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
				RTPCodingParameters: webrtc.RTPCodingParameters{
					SSRC:        webrtc.SSRC(rtp.Encodings[0].Ssrc),
					PayloadType: c.PayloadType,
				},
			}}}, c, nil
		}
	}
	return webrtc.RTPReceiveParameters{}, webrtc.RTPCodecParameters{}, fmt.Errorf("no routable codec in %d offered: %w", len(rtp.Codecs), domain.ErrIncompatibleCapabilities)
}

func iceParameters(p webrtc.ICEParameters) domain.IceParameters {
	return domain.IceParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, IceLite: p.ICELite}
}

func remoteICEParameters(p domain.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.IceLite}
}

func iceCandidates(cands []webrtc.ICECandidate) []domain.IceCandidate {
	out := make([]domain.IceCandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, domain.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	return out
}

func remoteICECandidates(cands []domain.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(cands))
	for _, c := range cands {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
		})
	}
	return out, nil
}

func dtlsParameters(p webrtc.DTLSParameters) domain.DtlsParameters {
	out := domain.DtlsParameters{Role: p.Role.String()}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, domain.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func remoteDTLSParameters(p domain.DtlsParameters) (webrtc.DTLSParameters, error) {
	if len(p.Fingerprints) == 0 {
		return webrtc.DTLSParameters{}, errors.New("dtls parameters carry no fingerprint")
	}
	out := webrtc.DTLSParameters{}
	switch strings.ToLower(p.Role) {
	case "", "auto":
		out.Role = webrtc.DTLSRoleAuto
	case "client":
		out.Role = webrtc.DTLSRoleClient
	case "server":
		out.Role = webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSParameters{}, fmt.Errorf("unknown dtls role %q", p.Role)
	}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out, nil
}
