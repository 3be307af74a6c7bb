package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/http"
	"time"

	"github.com/okdaichi/moqtransport/internal/certs"
	"github.com/okdaichi/moqtransport/moqt"
	"github.com/okdaichi/moqtransport/quic"
	"github.com/okdaichi/moqtransport/quic/quicgo"
	"github.com/okdaichi/moqtransport/webtransport/webtransportgo"
	"golang.org/x/sync/errgroup"
)

func serve(ctx context.Context, cfg peerConfig, logger *slog.Logger) error {
	cert, err := certs.Generate(certs.MaxValidity)
	if err != nil {
		return err
	}
	logger.Info("generated certificate",
		"cert_hash", cert.HashHex(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	h := newHub(cfg.track(), cfg.Publish, logger)
	g, ctx := errgroup.WithContext(ctx)

	accept := func(conn quic.Connection, remote string) {
		h.serveSession(ctx, conn, cfg, logger.With("remote_address", remote))
	}

	switch cfg.Transport {
	case "webtransport":
		srv := webtransportgo.NewServer(cfg.Addr, cert.ServerConfig(), nil)
		srv.HandleFunc(cfg.Path, func(conn quic.Connection, r *http.Request) {
			accept(conn, r.RemoteAddr)
		})
		g.Go(func() error {
			logger.Info("serving webtransport", "addr", cfg.Addr, "path", cfg.Path)
			err := srv.ListenAndServe()
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	default:
		ln, err := quicgo.ListenAddr(cfg.Addr, cert.ServerConfig(quicgo.NextProtoMOQ), &quic.Config{
			EnableDatagrams: true,
		})
		if err != nil {
			return err
		}
		logger.Info("serving raw quic", "addr", ln.Addr().String())
		g.Go(func() error {
			for {
				conn, err := ln.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				g.Go(func() error {
					accept(conn, conn.RemoteAddr().String())
					return nil
				})
			}
		})
		g.Go(func() error {
			<-ctx.Done()
			return ln.Close()
		})
	}

	g.Go(func() error {
		return h.run(ctx)
	})
	return g.Wait()
}

// serveSession sets up a publisher session, announces the track namespace
// and keeps the session in the hub until either side ends it.
func (h *hub) serveSession(ctx context.Context, conn quic.Connection, cfg peerConfig, logger *slog.Logger) {
	mcfg := cfg.sessionConfig(moqt.RolePublisher, logger)
	mcfg.FetchHandler = h

	sess, err := moqt.Accept(ctx, conn, mcfg)
	if err != nil {
		logger.Warn("session setup failed", "error", err)
		return
	}
	if err := sess.Announce(ctx, h.track.Namespace); err != nil {
		logger.Warn("announce failed", "error", err)
		sess.CloseWithError(moqt.InternalSessionErrorCode, "announce failed")
		return
	}

	h.add(sess)
	defer h.remove(sess)

	select {
	case <-ctx.Done():
		if err := sess.GoAway(""); err != nil {
			logger.Debug("goaway failed", "error", err)
		}
		sess.CloseWithError(moqt.NoError, "shutting down")
	case <-sess.Context().Done():
		logger.Info("session ended", "error", sess.Err())
	}
}

// run publishes groups until the configured count is reached or ctx ends.
// Sessions that join mid-group receive objects from the next group on.
func (h *hub) run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	size := max(h.cfg.ObjectSize, 8)
	last := make(map[*moqt.Session]*groupFeed)
	for g := uint64(0); h.cfg.Groups == 0 || g < h.cfg.Groups; g++ {
		feeds := h.openGroup(ctx, g)
		cached := cachedGroup{id: g}

		for o := uint64(0); o < h.cfg.ObjectsPerGroup; o++ {
			select {
			case <-ctx.Done():
				h.closeGroup(feeds)
				return nil
			case <-ticker.C:
			}

			payload := make([]byte, size)
			binary.BigEndian.PutUint64(payload, uint64(time.Now().UnixMicro()))
			h.push(feeds, o, payload)
			cached.objects = append(cached.objects, moqt.Object{
				Group:             g,
				ID:                o,
				PublisherPriority: h.cfg.Priority,
				Payload:           payload,
			})
		}

		h.closeGroup(feeds)
		h.store(cached)
		for sess, f := range feeds {
			last[sess] = f
		}
	}

	h.end(ctx, last)
	h.logger.Info("track ended", "track", h.track.String(), "groups", h.cfg.Groups)
	<-ctx.Done()
	return nil
}
