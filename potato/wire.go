package potato

import "go.dedis.ch/protobuf"

// EncodePeerMessage renders a PeerMessage to bytes for the transport. Only
// Kind plus the one populated payload pointer actually contribute bytes:
// go.dedis.ch/protobuf treats a nil pointer field as absent, which is why
// PeerMessage is a flat struct of optional pointers rather than a Go
// interface (spec §4.4: every variant shares one wire envelope).
func EncodePeerMessage(msg PeerMessage) ([]byte, error) {
	return protobuf.Encode(&msg)
}

// DecodePeerMessage parses bytes produced by EncodePeerMessage.
func DecodePeerMessage(b []byte) (PeerMessage, error) {
	var msg PeerMessage
	if err := protobuf.Decode(b, &msg); err != nil {
		return PeerMessage{}, err
	}
	return msg, nil
}
