// Command groupdemo runs a publisher and a subscriber peer for one media
// stream over a loopback QUIC connection. The publisher splits synthetic
// video frames into fragments and writes them, with the handshake and
// gossip messages of both sides, through their flow writers into QUIC
// datagrams. Each received datagram is handed unchanged, flow header
// included, to the receiving PeerMedia's OnMessage, which expects the flow
// framing already removed; this command does not strip flow headers, join
// flow fragments or send acknowledgments, so neither GroupMedia decodes
// the fragments, maps or pull requests the other side writes.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/groupmedia/group"
	"github.com/flowmesh/groupmedia/internal/certs"
	"github.com/flowmesh/groupmedia/internal/transport"
	"github.com/flowmesh/groupmedia/internal/wire"
	"github.com/flowmesh/groupmedia/media"
	"github.com/flowmesh/groupmedia/peer"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	addr := envOr("GROUPDEMO_ADDR", "127.0.0.1:4433")

	// Each side gets its own self-signed identity for this stream. There is
	// no CA: each side pins the other's fingerprint instead, exchanged here
	// in-process but in a real deployment carried alongside the rendezvous
	// introduction that told the peers about each other.
	serverCert, err := certs.Generate("demo-publisher", 14*24*time.Hour)
	if err != nil {
		log.Error("failed to generate publisher certificate", "error", err)
		os.Exit(1)
	}
	clientCert, err := certs.Generate("demo-subscriber", 14*24*time.Hour)
	if err != nil {
		log.Error("failed to generate subscriber certificate", "error", err)
		os.Exit(1)
	}
	log.Info("pinned fingerprints",
		"publisher", serverCert.FingerprintBase64(),
		"subscriber", clientCert.FingerprintBase64())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	info := wire.MediaInfos{
		StreamName:               "demo",
		WindowDuration:           uint32((10 * time.Second).Milliseconds()),
		AvailabilityUpdatePeriod: uint32((2 * time.Second).Milliseconds()),
		FetchPeriod:              uint32((2 * time.Second).Milliseconds()),
		AvailabilitySendToAll:    true,
	}

	quicCfg := &quic.Config{EnableDatagrams: true, MaxIdleTimeout: 30 * time.Second}
	tlsCfg := &tls.Config{
		Certificates:          []tls.Certificate{serverCert.TLSCert},
		NextProtos:            []string{"groupmedia-demo"},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: certs.PinVerifier(clientCert.Fingerprint),
	}

	listener, err := quic.ListenAddr(addr, tlsCfg, quicCfg)
	if err != nil {
		log.Error("failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer listener.Close()
	log.Info("listening", "addr", addr)

	accepted := make(chan quic.Connection, 1)
	g.Go(func() error {
		conn, err := listener.Accept(ctx)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		accepted <- conn
		return nil
	})

	clientTLS := &tls.Config{
		Certificates:          []tls.Certificate{clientCert.TLSCert},
		NextProtos:            []string{"groupmedia-demo"},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: certs.PinVerifier(serverCert.Fingerprint),
	}
	clientConn, err := quic.DialAddr(ctx, addr, clientTLS, quicCfg)
	if err != nil {
		log.Error("failed to dial", "error", err)
		os.Exit(1)
	}

	var serverConn quic.Connection
	select {
	case serverConn = <-accepted:
	case <-ctx.Done():
		return
	}

	pubBand := transport.NewBand(serverConn, log.With("side", "publisher"))
	subBand := transport.NewBand(clientConn, log.With("side", "subscriber"))

	pubGroup := group.New("demo", nil, group.Config{IsPublisher: true, PushLimit: 0}, info, nil, log.With("role", "publisher"))
	pubSerializer := group.NewSerializer(pubGroup, 200*time.Millisecond, log.With("role", "publisher"))

	subGroup := group.New("demo", nil, group.Config{
		WindowDuration:           10 * time.Second,
		RelayMargin:              time.Second,
		AvailabilityUpdatePeriod: 2 * time.Second,
		AvailabilitySendToAll:    true,
		FetchPeriod:              2 * time.Second,
		PushLimit:                0,
	}, info, func(typ media.ContentType, ts uint32, payload []byte) {
		log.Info("subscriber delivered packet", "type", typ, "time", ts, "size", len(payload))
	}, log.With("role", "subscriber"))
	subSerializer := group.NewSerializer(subGroup, 200*time.Millisecond, log.With("role", "subscriber"))

	subPeer := peer.New("subscriber", false, pubBand, 4, 5, nil, 0, pubGroup, log.With("peer", "subscriber"))
	pubPeer := peer.New("publisher", true, subBand, 4, 5, nil, 0, subGroup, log.With("peer", "publisher"))

	pubSerializer.AddPeer("subscriber", subPeer)
	subSerializer.AddPeer("publisher", pubPeer)

	g.Go(func() error { return pubSerializer.Run(ctx) })
	g.Go(func() error { return subSerializer.Run(ctx) })

	g.Go(func() error { return receiveLoop(ctx, pubBand, subPeer, pubSerializer) })
	g.Go(func() error { return receiveLoop(ctx, subBand, pubPeer, subSerializer) })

	g.Go(func() error {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		var seq uint32
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				seq++
				pubSerializer.OnMedia(media.Frame{
					Type: media.Video,
					Time: seq * 200,
					Data: []byte(fmt.Sprintf("frame-%d", seq)),
				})
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("groupdemo exited with error", "error", err)
		os.Exit(1)
	}
}

// receiveLoop drains datagrams off band and demultiplexes each into dst,
// the PeerMedia on the receiving side of that connection, on ser's
// goroutine so the owning GroupMedia is only touched by its Serializer.
func receiveLoop(ctx context.Context, band *transport.Band, dst *peer.PeerMedia, ser *group.Serializer) error {
	return band.ReceiveLoop(ctx, func(payload []byte) {
		ser.Submit(func(*group.GroupMedia) {
			if err := dst.OnMessage(payload); err != nil {
				slog.Warn("failed to demultiplex message", "peer", dst.ID, "error", err)
			}
		})
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
