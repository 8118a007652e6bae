package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hearth/dispatcher"
	"hearth/libs"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const pongWait = 60 * time.Second

// WebsocketSource reads event envelopes from a gateway websocket and redials
// whenever the connection drops.
type WebsocketSource struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	ready chan struct{}
	once  sync.Once
}

func NewWebsocketSource(url string, logger *zap.SugaredLogger) *WebsocketSource {
	return &WebsocketSource{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed after the first successful dial.
func (s *WebsocketSource) Ready() <-chan struct{} {
	return s.ready
}

func (s *WebsocketSource) Events(ctx context.Context) (<-chan dispatcher.Event, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan dispatcher.Event, eventsBuffer)
	go func() {
		defer close(events)

		for {
			s.read(ctx, conn, events)
			if ctx.Err() != nil {
				return
			}

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}

				conn, err = s.dial(ctx)
				if err == nil {
					break
				}
				s.logger.Errorf("gateway websocket redial error - %v", err)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	}()

	return events, nil
}

func (s *WebsocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Infof("connected to gateway websocket %s", s.url)
	s.once.Do(func() { close(s.ready) })

	return conn, nil
}

func (s *WebsocketSource) read(ctx context.Context, conn *websocket.Conn, events chan<- dispatcher.Event) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Errorf("error reading from gateway websocket - %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		evt, err := decodeEnvelope(message, "", time.Now())
		if err != nil {
			s.logger.Errorf("dropping gateway frame - %v", err)
			continue
		}

		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// Reply writes an operator reply back over the live gateway connection.
func (s *WebsocketSource) Reply(_ context.Context, reply libs.OperatorReply) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return conn.WriteJSON(libs.EventEnvelope{Id: uuid.New(), Kind: OperatorReplies, Payload: payload})
}
