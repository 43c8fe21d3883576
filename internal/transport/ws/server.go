package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *zap.Logger

	upgrader websocket.Upgrader
	outQueue int
}

func NewServer(w *world.World, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		world:    w,
		log:      logger.With(zap.String("component", "ws")),
		outQueue: 256,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

type session struct {
	id      string
	actorID board.EntityID
	replica bool
	enc     protocol.Encoding
	out     chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Debug("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		sess, ok := s.handshake(conn)
		if !ok {
			return
		}
		log := s.log.With(zap.String("session", sess.id))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			frameType := websocket.TextMessage
			if sess.enc.Binary() {
				frameType = websocket.BinaryMessage
			}
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(frameType, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBaseAs(sess.enc, msg)
			if err != nil {
				s.sendError(sess, protocol.ErrProtoBadRequest, "undecodable frame")
				continue
			}
			if base.Type != protocol.TypeMove {
				continue
			}
			var mv protocol.MoveMsg
			if err := protocol.Decode(sess.enc, msg, &mv); err != nil {
				s.sendError(sess, protocol.ErrProtoBadRequest, "bad MOVE")
				continue
			}
			if mv.ProtocolVersion != protocol.Version {
				s.sendError(sess, protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			dir, ok := board.ParseDirection(mv.Dir)
			if !ok {
				s.sendError(sess, protocol.ErrBadDirection, mv.Dir)
				continue
			}
			if sess.replica {
				s.sendError(sess, protocol.ErrUnknownActor, "replica sessions cannot move")
				continue
			}
			if err := s.world.Submit(world.IntentEnvelope{SessionID: sess.id, Dir: dir, Seq: mv.Seq}); err != nil {
				log.Warn("intent dropped", zap.Error(err))
			}
		}

		// Cleanup.
		s.world.Leave() <- sess.id
		log.Debug("disconnected")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frameType, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}

	// HELLO may arrive as JSON text or msgpack binary.
	helloEnc := protocol.EncodingJSON
	if frameType == websocket.BinaryMessage {
		helloEnc = protocol.EncodingMsgpack
	}
	base, err := protocol.DecodeBaseAs(helloEnc, msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil, false
	}
	var hello protocol.HelloMsg
	if err := protocol.Decode(helloEnc, msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil, false
	}
	if hello.Name == "" {
		hello.Name = "player"
	}

	sess := &session{
		id:      uuid.NewString(),
		replica: hello.Role == protocol.RoleReplica,
		enc:     protocol.ParseEncoding(hello.Encoding),
		out:     make(chan []byte, s.outQueue),
	}
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		SessionID: sess.id,
		Name:      hello.Name,
		Role:      hello.Role,
		Encoding:  sess.enc,
		Out:       sess.out,
		Resp:      respCh,
	}
	resp := <-respCh
	sess.actorID = board.EntityID(resp.Welcome.ActorID)

	// Send welcome immediately, ahead of anything already queued on out.
	if err := writeFrame(conn, sess.enc, resp.Welcome); err != nil {
		s.world.Leave() <- sess.id
		return nil, false
	}
	s.log.Info("session started",
		zap.String("session", sess.id),
		zap.String("name", hello.Name),
		zap.String("encoding", string(sess.enc)),
		zap.Uint64("actor", uint64(sess.actorID)),
	)
	return sess, true
}

func (s *Server) sendError(sess *session, code, message string) {
	b, err := protocol.Encode(sess.enc, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, enc protocol.Encoding, v any) error {
	b, err := protocol.Encode(enc, v)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if enc.Binary() {
		frameType = websocket.BinaryMessage
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(frameType, b)
}
