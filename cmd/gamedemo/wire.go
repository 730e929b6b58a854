package main

import (
	"encoding/binary"
	"io"

	"github.com/chia-gaming/channel-core/potato"
)

// writeFramed length-prefixes an encoded PeerMessage so readFramed on the
// other end of a stream knows exactly how many bytes to pull off the wire.
func writeFramed(w io.Writer, msg potato.PeerMessage) error {
	b, err := potato.EncodePeerMessage(msg)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readFramed(r io.Reader) (potato.PeerMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return potato.PeerMessage{}, err
	}
	buf := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return potato.PeerMessage{}, err
	}
	return potato.DecodePeerMessage(buf)
}
