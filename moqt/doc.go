// Package moqt implements the session and track-state engine of Media over
// QUIC Transport (draft-ietf-moq-transport-11 and -12).
//
// A Session runs over a quic.Connection, which may be a raw QUIC connection
// (see package quic/quicgo) or a WebTransport session (see package
// webtransport/webtransportgo).
//
// # Basic Usage
//
// A publisher announces a namespace and writes groups:
//
//	sess, err := moqt.Accept(ctx, conn, &moqt.Config{Role: moqt.RolePublisher})
//	if err != nil {
//	    return err
//	}
//	if err := sess.Announce(ctx, moqt.NewTrackNamespace("live")); err != nil {
//	    return err
//	}
//	gw, err := sess.PublishGroup(track, 0, moqt.GroupOptions{})
//	if err != nil {
//	    return err
//	}
//	gw.WriteObject(ctx, 0, payload)
//	gw.Close()
//
// A subscriber waits for the announcement and reads events:
//
//	sess, err := moqt.Connect(ctx, conn, &moqt.Config{Role: moqt.RoleSubscriber})
//	if err != nil {
//	    return err
//	}
//	if _, err := sess.AwaitAnnouncement(ctx, track.Namespace); err != nil {
//	    return err
//	}
//	sub, err := sess.Subscribe(ctx, track, moqt.SubscribeOptions{Policy: moqt.DeliverInOrder})
//	if err != nil {
//	    return err
//	}
//	for {
//	    ev, err := sub.Next(ctx)
//	    if err != nil {
//	        break
//	    }
//	    switch ev := ev.(type) {
//	    case moqt.ObjectEvent:
//	    case moqt.GapEvent:
//	    case moqt.GroupAbortedEvent:
//	    }
//	}
//
// # Delivery
//
// Each group travels on its own unidirectional stream, so groups may arrive
// in any order. A Subscription reorders them according to its
// DeliveryPolicy and reports skipped objects as GapEvent and reset groups
// as GroupAbortedEvent. A group failure never fails the subscription.
package moqt
