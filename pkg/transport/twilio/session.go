// Package twilio implements the Twilio-style media websocket wire contract:
// JSON start/media/close events in, base64-encoded PCM media events out.
// A Session owns one accepted websocket connection and
// translates between it and simulflow frames; the In and Out processors
// (in processors.go) wire a Session into a graph.
package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
)

const (
	keepaliveInterval = 3 * time.Second
	keepaliveTimeout  = 1 * time.Second
)

// inboundMessage is the subset of Twilio Media Stream message fields this
// package understands. Event distinguishes start/media/close; the other
// fields are populated according to Event.
type inboundMessage struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// mediaMessage is the wire shape Serializer produces for outbound audio
// and the shape WriteRaw marshals directly.
type mediaMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// Serializer returns the realtime-pacer serializer that
// encodes outbound PCM audio into a Twilio media event for the given
// stream. Install it via a SystemConfigChange frame's Serializer field.
func Serializer(streamSID string) func(frame.AudioPayload) any {
	return func(p frame.AudioPayload) any {
		return mediaMessage{
			Event:     "media",
			StreamSID: streamSID,
			Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(p.Bytes)},
		}
	}
}

// Session is a live Twilio media stream connection. ReadLoop decodes
// inbound messages into frames and puts them on in; WriteRaw marshals
// already-serialized outbound values (as produced by Serializer) onto the
// wire.
type Session struct {
	conn *websocket.Conn
	in   *channel.Channel

	mu        sync.Mutex
	streamSID string
	closed    bool
	done      chan struct{}
}

// NewSession wraps an already-accepted websocket connection. in receives
// the frames decoded from inbound Twilio events.
func NewSession(conn *websocket.Conn, in *channel.Channel) *Session {
	return &Session{conn: conn, in: in, done: make(chan struct{})}
}

// StreamSID returns the streamSid observed on the most recent "start"
// event, or "" if none has arrived yet.
func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// Run drives the session until ctx is cancelled or the connection closes:
// it starts the keepalive ping loop and blocks in ReadLoop.
func (s *Session) Run(ctx context.Context) {
	go s.keepaliveLoop(ctx)
	s.ReadLoop(ctx)
}

// ReadLoop receives JSON messages from the connection, translates them to
// frames, and puts them on in. It returns when the
// connection closes, ctx is cancelled, or a system.stop frame (from a
// "close" event) has been emitted.
func (s *Session) ReadLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "start":
			s.mu.Lock()
			s.streamSID = msg.StreamSID
			s.mu.Unlock()
			s.in.Put(frame.New(frame.SystemConfigChange, frame.ConfigChangePayload{
				Serializer: Serializer(msg.StreamSID),
				StreamSID:  msg.StreamSID,
			}))

		case "media":
			raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			s.in.Put(frame.New(frame.AudioInputRaw, frame.AudioPayload{Bytes: raw}))

		case "close":
			s.in.Put(frame.New(frame.SystemStop, nil))
			return
		}
	}
}

// WriteRaw marshals v (as produced by Serializer) and writes it as a text
// message.
func (s *Session) WriteRaw(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("twilio: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Close terminates the session. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.conn.Close(websocket.StatusNormalClosure, "session closed")
}

func (s *Session) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}
