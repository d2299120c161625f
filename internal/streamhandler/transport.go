package streamhandler

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
)

// LibP2PSender writes StreamMessage frames onto a libp2p stream,
// length-prefixed the same way the teacher's network.Server frames
// its protobuf messages over a raw net.Conn.
type LibP2PSender struct {
	stream network.Stream
}

func NewLibP2PSender(s network.Stream) *LibP2PSender { return &LibP2PSender{stream: s} }

func (s *LibP2PSender) SendStreamMessage(msg StreamMessage) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("stream handler: encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(buf.Len()))
	if _, err := s.stream.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("stream handler: write frame length: %w", err)
	}
	if _, err := s.stream.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("stream handler: write frame body: %w", err)
	}
	return nil
}

// ReadLoop decodes length-prefixed StreamMessage frames off s until it
// errors or the stream closes, handing each to in. remote identifies the
// remote side for buffering caps and reputation reports.
func ReadLoop(s network.Stream, remote peer.ID, in *Inbound) error {
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(s, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("stream handler: read frame length: %w", err)
		}
		body := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(s, body); err != nil {
			return fmt.Errorf("stream handler: read frame body: %w", err)
		}
		var msg StreamMessage
		if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
			return fmt.Errorf("stream handler: decode frame: %w", err)
		}
		in.HandleMessage(PeerID(remote.String()), msg)
	}
}
