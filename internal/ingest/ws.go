package ingest

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSSource consumes the marketplace event feed over a websocket. The feed is
// at-least-once and possibly duplicated; duplicate suppression happens in the
// pipeline, reconnection with backoff happens here.
type WSSource struct {
	url    string
	pipe   *Pipeline
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewWSSource(url string, pipe *Pipeline, log zerolog.Logger) *WSSource {
	return &WSSource{
		url:    url,
		pipe:   pipe,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With().Str("component", "ws_source").Str("url", url).Logger(),
	}
}

// Run reads the feed until ctx is cancelled, reconnecting on failure with
// doubling backoff capped at 30s.
func (s *WSSource) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("feed dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		s.log.Info().Msg("event feed connected")
		backoff = time.Second
		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("feed read failed, reconnecting")
			}
			return
		}
		if err := s.pipe.Submit(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("entity", ev.EntityKey).Msg("event rejected")
		}
	}
}
