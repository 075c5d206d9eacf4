package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/pkg/audio"
)

// liveWriteTimeout bounds a single websocket write so a stalled client
// cannot pin its subscription forever.
const liveWriteTimeout = 5 * time.Second

// LiveHeader is the text message that precedes binary audio on /live and is
// repeated whenever the sample rate changes.
type LiveHeader struct {
	SampleRate uint32 `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
}

// handleLive streams mono 16-bit little-endian PCM straight from the hub.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Warn("live: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := s.hub.Subscribe("live")
	defer sub.Close()

	// Incoming messages are discarded; ctx ends when the peer closes.
	ctx := conn.CloseRead(r.Context())

	s.metrics.LiveListeners.Add(ctx, 1)
	defer s.metrics.LiveListeners.Add(context.WithoutCancel(ctx), -1)
	log.Info("live listener connected", "remote", r.RemoteAddr)

	rate := s.buf.SampleRate()
	if err := writeHeader(ctx, conn, rate); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("live listener disconnected", "remote", r.RemoteAddr, "dropped", sub.Dropped())
			return
		case <-sub.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case b := <-sub.C():
			if len(b.Samples) == 0 {
				continue
			}
			if b.SampleRate != 0 && b.SampleRate != rate {
				rate = b.SampleRate
				if err := writeHeader(ctx, conn, rate); err != nil {
					return
				}
			}
			pcm := audio.Int16sToBytes(audio.Float32ToInt16(audio.Downmix(b.Samples, b.Channels)))
			if err := write(ctx, conn, websocket.MessageBinary, pcm); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("live: write failed", "err", err)
				}
				return
			}
		}
	}
}

func writeHeader(ctx context.Context, conn *websocket.Conn, rate uint32) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, LiveHeader{SampleRate: rate, Channels: 1, Format: "s16le"})
}

func write(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(ctx, typ, p)
}
