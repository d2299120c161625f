// Package p2phost constructs the libp2p host the stream handler's
// transport runs over: a thin wrapper around libp2p.New, grounded on
// the teacher's internal/network.Server listen/accept shape but
// backed by a real libp2p transport instead of a raw net.Listener, so
// the stream handler's reorder buffer sits behind genuine multiplexed
// peer connections rather than one socket per peer.
package p2phost

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/apollo-sequencer/sequencer/internal/logging"
	"github.com/apollo-sequencer/sequencer/internal/streamhandler"
)

// ProtocolID is the stream handler's wire protocol, carrying
// length-prefixed gob StreamMessage frames.
const ProtocolID = "/apollo-sequencer/streamhandler/1.0.0"

// Host wraps a libp2p host.Host and registers the stream handler's
// protocol on it.
type Host struct {
	host.Host
	logger *zap.SugaredLogger
}

// New constructs a libp2p host listening on listenAddr (a multiaddr,
// e.g. "/ip4/0.0.0.0/tcp/10000") and wires every inbound stream on
// ProtocolID into in via streamhandler.ReadLoop.
func New(listenAddr string, in *streamhandler.Inbound, logger *zap.SugaredLogger) (*Host, error) {
	addr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("p2phost: parse listen addr: %w", err)
	}
	h, err := libp2p.New(libp2p.ListenAddrs(addr))
	if err != nil {
		return nil, fmt.Errorf("p2phost: construct host: %w", err)
	}

	hh := &Host{Host: h, logger: logging.NopIfNil(logger)}
	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		remote := s.Conn().RemotePeer()
		if err := streamhandler.ReadLoop(s, remote, in); err != nil {
			hh.logger.Warnw("stream handler read loop ended", "peer", remote.String(), "err", err)
		}
	})
	return hh, nil
}

// OpenSender dials peerID over ProtocolID and returns a sender the
// outbound side can push StreamMessage frames through.
func (h *Host) OpenSender(ctx context.Context, peerID string) (*streamhandler.LibP2PSender, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("p2phost: decode peer id %s: %w", peerID, err)
	}
	s, err := h.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("p2phost: open stream to %s: %w", peerID, err)
	}
	return streamhandler.NewLibP2PSender(s), nil
}
