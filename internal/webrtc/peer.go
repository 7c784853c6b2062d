// Package webrtc carries replication frames over a pion DataChannel.
package webrtc

import (
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers are used when the configuration names none. No TURN:
// peers are expected to reach each other directly.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, ordered DataChannel. Frames of
// one connection must arrive in send order because each one may depend on
// handles created by the previous one. Negotiated mode (ID 0) lets both
// sides create the channel without waiting for OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection, label string) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	if label == "" {
		label = "graphsync"
	}
	return pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
