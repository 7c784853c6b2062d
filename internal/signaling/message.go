// Package signaling runs the SDP/ICE exchange that turns a websocket
// signaling connection into a WebRTC replication link.
package signaling

type messageType string

const (
	msgHello     messageType = "hello"
	msgReject    messageType = "reject"
	msgOffer     messageType = "offer"
	msgAnswer    messageType = "answer"
	msgCandidate messageType = "candidate"
)

// Hello names the replication stream a link will carry. The client sends
// it first; the master only offers a channel when it matches its own.
type Hello struct {
	Version   int32  `json:"version"`
	ByteOrder string `json:"byte_order"`
}

// message is the JSON structure exchanged over the WebSocket during signaling.
type message struct {
	Type      messageType `json:"type"`
	Hello     *Hello      `json:"hello,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
