package media

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// ValidateSDP parses a remote session description before it reaches the
// engine, so a corrupt payload fails negotiation with a clear cause.
func ValidateSDP(raw string) (*sdp.SessionDescription, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty session description", ErrNegotiation)
	}
	var sd sdp.SessionDescription
	if err := sd.UnmarshalString(raw); err != nil {
		return nil, fmt.Errorf("%w: parse sdp: %v", ErrNegotiation, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("%w: sdp has no media sections", ErrNegotiation)
	}
	return &sd, nil
}

// MediaKinds lists the m-line kinds of a parsed description, in order.
func MediaKinds(sd *sdp.SessionDescription) []string {
	out := make([]string, 0, len(sd.MediaDescriptions))
	for _, m := range sd.MediaDescriptions {
		out = append(out, m.MediaName.Media)
	}
	return out
}
