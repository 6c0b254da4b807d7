package endpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// candidatePriority is the host candidate priority for component 1; each
// further component is one lower.
const candidatePriority = 2130706431

// Media is the local or remote audio stream described by an SDP body.
type Media struct {
	Host string
	Port int
	// Components is the number of ICE components offered; zero without ICE.
	Components int
}

// Marshal renders m as an SDP body with one host candidate per component.
func (m Media) Marshal(sessionID uint64) ([]byte, error) {
	attrs := []sdp.Attribute{{Key: "sendrecv"}}
	if m.Components > 0 {
		attrs = append(attrs,
			sdp.Attribute{Key: "ice-ufrag", Value: fmt.Sprintf("sh%08x", uint32(sessionID))},
			sdp.Attribute{Key: "ice-pwd", Value: fmt.Sprintf("sipharness%014x", sessionID)},
		)
		for c := 1; c <= m.Components; c++ {
			attrs = append(attrs, sdp.Attribute{
				Key:   "candidate",
				Value: fmt.Sprintf("1 %d UDP %d %s %d typ host", c, candidatePriority-c+1, m.Host, m.Port+c-1),
			})
		}
		if m.Components == 1 {
			attrs = append(attrs, sdp.Attribute{Key: "rtcp-mux"})
		}
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: m.Host,
		},
		SessionName: "sipharness",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: m.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: m.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"0", "8"},
			},
			Attributes: attrs,
		}},
	}
	return desc.Marshal()
}

// ParseMedia extracts the first audio stream of an SDP body and counts the
// distinct ICE components among its candidates.
func ParseMedia(body []byte) (Media, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return Media{}, fmt.Errorf("invalid SDP: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		m := Media{Port: md.MediaName.Port.Value}
		switch {
		case md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil:
			m.Host = md.ConnectionInformation.Address.Address
		case desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil:
			m.Host = desc.ConnectionInformation.Address.Address
		}

		seen := make(map[int]bool)
		for _, a := range md.Attributes {
			if a.Key != "candidate" {
				continue
			}
			fields := strings.Fields(a.Value)
			if len(fields) < 2 {
				return Media{}, fmt.Errorf("malformed candidate %q", a.Value)
			}
			c, err := strconv.Atoi(fields[1])
			if err != nil || c < 1 {
				return Media{}, fmt.Errorf("malformed candidate component in %q", a.Value)
			}
			seen[c] = true
		}
		m.Components = len(seen)
		return m, nil
	}
	return Media{}, errors.New("no audio stream in SDP")
}

// negotiated returns the number of components ICE settles on, or zero when
// either side does not use ICE.
func negotiated(local, remote int) int {
	return min(local, remote)
}

// components returns how many ICE components the options offer.
func (o Options) components() int {
	switch {
	case !o.UseICE:
		return 0
	case o.ICENoRTCP:
		return 1
	default:
		return 2
	}
}
