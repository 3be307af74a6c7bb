package main

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/okdaichi/moqtransport/internal/bitrate"
	"github.com/okdaichi/moqtransport/internal/certs"
	"github.com/okdaichi/moqtransport/moqt"
	"github.com/okdaichi/moqtransport/quic"
	"github.com/okdaichi/moqtransport/quic/quicgo"
	"github.com/okdaichi/moqtransport/webtransport/webtransportgo"
	"golang.org/x/sync/errgroup"
)

func clientTLSConfig(cfg subscribeConfig) (*tls.Config, error) {
	switch {
	case cfg.CertHash != "":
		hash, err := certs.ParseHashHex(cfg.CertHash)
		if err != nil {
			return nil, err
		}
		return &tls.Config{
			InsecureSkipVerify:    true,
			VerifyPeerCertificate: certs.VerifyHash(hash),
		}, nil
	case cfg.Insecure:
		return &tls.Config{InsecureSkipVerify: true}, nil
	default:
		return &tls.Config{}, nil
	}
}

func dial(ctx context.Context, cfg peerConfig) (quic.Connection, error) {
	tlsConfig, err := clientTLSConfig(cfg.Subscribe)
	if err != nil {
		return nil, err
	}
	if cfg.Transport == "webtransport" {
		_, conn, err := webtransportgo.Dial(ctx, "https://"+cfg.Addr+cfg.Path, nil, tlsConfig)
		return conn, err
	}
	return quicgo.DialAddr(ctx, cfg.Addr, tlsConfig, &quic.Config{EnableDatagrams: true})
}

func subscribe(ctx context.Context, cfg peerConfig, logger *slog.Logger) error {
	policy, err := parsePolicy(cfg.Subscribe.Policy)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	sess, err := moqt.Connect(ctx, conn, cfg.sessionConfig(moqt.RoleSubscriber, logger))
	if err != nil {
		return err
	}
	defer sess.CloseWithError(moqt.NoError, "")

	track := cfg.track()
	if _, err := sess.AwaitAnnouncement(ctx, track.Namespace); err != nil {
		return err
	}
	sub, err := sess.Subscribe(ctx, track, moqt.SubscribeOptions{
		Policy:   policy,
		Priority: cfg.Subscribe.Priority,
	})
	if err != nil {
		return err
	}
	if err := sub.Ready(ctx); err != nil {
		return err
	}
	logger.Info("subscribed", "track", track.String(), "policy", policy.String(), "request_id", sub.ID())

	if cfg.Subscribe.JoiningGroups > 0 {
		if err := fetchJoining(ctx, sess, sub, cfg.Subscribe.JoiningGroups, logger); err != nil {
			logger.Warn("joining fetch failed", "error", err)
		}
	}

	meter := bitrate.NewMeter(bitrate.NewEWMADetector(0.25, 0.3, 2))
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return consume(ctx, sub, meter, logger)
	})
	g.Go(func() error {
		report(ctx, done, meter, cfg.Subscribe.SampleInterval, logger)
		return nil
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sub.Unsubscribe()
		return nil
	}
	return err
}

// consume reads the subscription until it completes.
func consume(ctx context.Context, sub *moqt.Subscription, meter *bitrate.Meter, logger *slog.Logger) error {
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info("subscription completed", "state", sub.State().String())
			return nil
		}
		if err != nil {
			return err
		}
		switch ev := ev.(type) {
		case moqt.ObjectEvent:
			meter.Add(len(ev.Payload))
			if len(ev.Payload) >= 8 {
				sent := time.UnixMicro(int64(binary.BigEndian.Uint64(ev.Payload)))
				logger.Debug("object", "location", ev.Location().String(), "latency", time.Since(sent))
			}
		case moqt.GapEvent:
			logger.Info("gap", "from", ev.From.String(), "to", ev.To.String())
		case moqt.GroupAbortedEvent:
			logger.Info("group aborted", "group_id", ev.Group, "error", ev.Err)
		}
	}
}

// report logs a rate sample per interval and warns on rate shifts.
func report(ctx context.Context, done <-chan struct{}, meter *bitrate.Meter, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
		s, ok := meter.Sample()
		if !ok {
			continue
		}
		attrs := []any{"kbps", s.BitsPerSecond / 1000, "objects", s.Objects}
		if s.Shift {
			logger.Warn("receive rate shifted", attrs...)
		} else {
			logger.Info("receive rate", attrs...)
		}
	}
}

func fetchJoining(ctx context.Context, sess *moqt.Session, sub *moqt.Subscription, groups uint64, logger *slog.Logger) error {
	fs, err := sess.Fetch(ctx, moqt.FetchRequest{
		Joining:      sub,
		JoiningStart: groups,
	})
	if err != nil {
		return err
	}
	end, endOfTrack := fs.End()
	n := 0
	for {
		_, err := fs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		n++
	}
	logger.Info("fetched joining groups", "objects", n, "end", end.String(), "end_of_track", endOfTrack)
	return nil
}
