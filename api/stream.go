package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bundle-pricing/core/engine"
	"bundle-pricing/core/stream"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/logging"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream handles GET /calculate/stream. The client sends one
// StreamRequest and receives every step envelope of the run, ending with
// the envelope that has isComplete set. Streamed runs bypass the cache.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req StreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.closeWith(conn, websocket.CloseUnsupportedData, "invalid stream request")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = generateRequestID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchClose(conn, cancel)

	sub := s.opts.Broadcaster.Subscribe(req.CorrelationID)
	defer sub.Close()

	go func() {
		_, err := s.opts.Engine.Run(ctx, req.Facts, engine.RunOptions{
			StrategyID:    req.StrategyID,
			CorrelationID: req.CorrelationID,
			Sink:          s.stepSink(),
		})
		if err != nil {
			s.logger.Debug("streamed calculation failed",
				logging.CorrelationID(req.CorrelationID),
				zap.Error(err),
			)
		}
	}()

	s.forward(ctx, conn, sub)
}

// handleSubscribe handles GET /subscribe/{correlationId}. The client
// receives the envelopes of a run started elsewhere until it completes.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationId")
	sub := s.opts.Broadcaster.Subscribe(correlationID)
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchClose(conn, cancel)

	s.forward(ctx, conn, sub)
}

// stepSink is where streamed runs publish. A configured StepSink such as
// a Redis publisher reaches the broadcaster through its relay.
func (s *Server) stepSink() engine.StepSink {
	if s.opts.StepSink != nil {
		return s.opts.StepSink
	}
	return s.opts.Broadcaster
}

// forward writes envelopes from sub to conn until the run completes, the
// client goes away or the broadcaster shuts down
func (s *Server) forward(ctx context.Context, conn *websocket.Conn, sub *stream.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				s.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := writeEnvelope(conn, env); err != nil {
				s.logger.Debug("stream write failed", zap.String("channel", sub.Channel()), zap.Error(err))
				return
			}
			if env.IsComplete {
				s.closeWith(conn, websocket.CloseNormalClosure, "calculation complete")
				return
			}
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env types.StepEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.logger.Debug("close frame not sent", zap.Error(err))
	}
}

// watchClose drains client frames and cancels once the connection ends
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
