package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/world"
)

func startServer(t *testing.T) (*world.World, string) {
	t.Helper()
	w := world.New(world.WorldConfig{ID: "test", TickRateHz: 100, MoveDuration: 20 * time.Millisecond})
	err := w.Rebuild(board.Cell{}, nil, func(reg world.RegisterFunc) error {
		for x := -1; x <= 3; x++ {
			if err := reg(board.NewEntity(board.Solid), board.Cell{X: x, Y: -1}); err != nil {
				return err
			}
		}
		return reg(board.NewEntity(board.MaskOf(board.Solid, board.Interactable)), board.Cell{X: 1})
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(NewServer(w, nil).Handler())
	t.Cleanup(srv.Close)
	return w, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, hello protocol.HelloMsg) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	enc := protocol.ParseEncoding(hello.Encoding)
	b, err := protocol.Encode(enc, hello)
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	frameType := websocket.TextMessage
	if enc.Binary() {
		frameType = websocket.BinaryMessage
	}
	if err := conn.WriteMessage(frameType, b); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readUntil(t, conn, enc, protocol.TypeWelcome, &welcome)
	return conn, welcome
}

func readUntil(t *testing.T, conn *websocket.Conn, enc protocol.Encoding, typ string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBaseAs(enc, msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			if err := protocol.Decode(enc, msg, v); err != nil {
				t.Fatalf("decode %s: %v", typ, err)
			}
			return
		}
	}
}

func TestHelloMoveAndReplicaBroadcast(t *testing.T) {
	w, url := startServer(t)

	replicaConn, replicaWelcome := dial(t, url, protocol.HelloMsg{
		Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: "mirror",
		Role: protocol.RoleReplica, Encoding: string(protocol.EncodingMsgpack),
	})
	if replicaWelcome.ActorID != 0 || replicaWelcome.SessionID == "" {
		t.Fatalf("replica welcome=%+v", replicaWelcome)
	}

	playerConn, welcome := dial(t, url, protocol.HelloMsg{
		Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: "p1",
	})
	if welcome.ActorID == 0 || welcome.SessionID == replicaWelcome.SessionID {
		t.Fatalf("player welcome=%+v", welcome)
	}
	if welcome.Params.TickRateHz != 100 || len(welcome.Entities) != 7 {
		t.Fatalf("welcome params=%+v entities=%d", welcome.Params, len(welcome.Entities))
	}

	move, _ := protocol.Encode(protocol.EncodingJSON, protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Dir: "EAST", Seq: 1})
	if err := playerConn.WriteMessage(websocket.TextMessage, move); err != nil {
		t.Fatalf("write move: %v", err)
	}

	// The crate moves first, then the player.
	var moved protocol.MovedMsg
	readUntil(t, replicaConn, protocol.EncodingMsgpack, protocol.TypeMoved, &moved)
	if moved.Target != [3]int{2, 0, 0} {
		t.Fatalf("first MOVED=%+v, want crate to (2,0,0)", moved)
	}
	readUntil(t, replicaConn, protocol.EncodingMsgpack, protocol.TypeMoved, &moved)
	if moved.ActorID != welcome.ActorID || moved.Target != [3]int{1, 0, 0} {
		t.Fatalf("second MOVED=%+v", moved)
	}
	if c, _ := w.CellOf(board.EntityID(welcome.ActorID)); c != (board.Cell{X: 1}) {
		t.Fatalf("authority has player at %v", c)
	}

	bad, _ := protocol.Encode(protocol.EncodingJSON, protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Dir: "SIDEWAYS"})
	_ = playerConn.WriteMessage(websocket.TextMessage, bad)
	var errMsg protocol.ErrorMsg
	readUntil(t, playerConn, protocol.EncodingJSON, protocol.TypeError, &errMsg)
	if errMsg.Code != protocol.ErrBadDirection {
		t.Fatalf("error=%+v", errMsg)
	}
}

func TestHandshakeRejectsWrongFirstMessage(t *testing.T) {
	_, url := startServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	move, _ := protocol.Encode(protocol.EncodingJSON, protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Dir: "EAST"})
	_ = conn.WriteMessage(websocket.TextMessage, move)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}
