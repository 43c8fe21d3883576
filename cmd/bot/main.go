package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridpush.dev/internal/logging"
	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/playback"
	"gridpush.dev/internal/sim/world"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		encoding = flag.String("encoding", "json", "json|msgpack")
		role     = flag.String("role", protocol.RolePlayer, "PLAYER|REPLICA")
		every    = flag.Duration("every", 400*time.Millisecond, "interval between random moves")
		seed     = flag.Int64("seed", 0, "random walk seed (0 = time based)")
		logLevel = flag.String("log_level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel, Console: true})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("component", "bot"), zap.String("name", *name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	c := &client{conn: conn, enc: protocol.ParseEncoding(*encoding), log: logger}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		Role:            *role,
		Encoding:        string(c.enc),
	}
	if err := c.write(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	rep := world.NewReplica(c.submit)
	rep.SetLogger(logger)
	sched := playback.NewScheduler(ctx, 0, func(f playback.Frame) {
		if f.Final {
			logger.Debug("arrived", zap.Uint64("id", uint64(f.ID)), zap.Float64("x", f.X), zap.Float64("z", f.Z))
		}
	})
	rep.SetPlaybackSink(sched)

	go func() {
		defer stop()
		c.readLoop(rep)
	}()

	if *role == protocol.RolePlayer {
		s := *seed
		if s == 0 {
			s = time.Now().UnixNano()
		}
		go walk(ctx, rep, rand.New(rand.NewSource(s)), *every, logger)
	}

	<-ctx.Done()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	sched.Wait()
	logger.Info("stopped",
		zap.Uint64("last_seq", rep.LastSeq()),
		zap.Int("desyncs", rep.Desyncs()),
		zap.Int64("rejected", c.rejected.Load()),
		zap.String("digest", rep.Digest()),
	)
}

type client struct {
	conn *websocket.Conn
	enc  protocol.Encoding
	log  *zap.Logger

	wmu      sync.Mutex
	seq      atomic.Int64
	rejected atomic.Int64
}

func (c *client) write(v any) error {
	b, err := protocol.Encode(c.enc, v)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if c.enc.Binary() {
		frameType = websocket.BinaryMessage
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(frameType, b)
}

// submit is the replica's upstream: it forwards an intent as a MOVE frame.
func (c *client) submit(in world.IntentEnvelope) error {
	return c.write(protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Dir:             in.Dir.String(),
		Seq:             c.seq.Add(1),
	})
}

func (c *client) readLoop(rep *world.Replica) {
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Info("connection closed", zap.Error(err))
			return
		}
		base, err := protocol.DecodeBaseAs(c.enc, frame)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := protocol.Decode(c.enc, frame, &w); err == nil {
				c.log.Info("WELCOME",
					zap.String("session", w.SessionID),
					zap.Uint64("actor", w.ActorID),
					zap.String("level", w.Params.LevelName),
					zap.Int("entities", len(w.Entities)),
				)
			}
		case protocol.TypeRejected:
			var m protocol.RejectedMsg
			if err := protocol.Decode(c.enc, frame, &m); err == nil {
				c.rejected.Add(1)
				c.log.Debug("rejected", zap.String("dir", m.Dir), zap.String("code", m.Code))
			}
			continue
		case protocol.TypeError:
			var m protocol.ErrorMsg
			if err := protocol.Decode(c.enc, frame, &m); err == nil {
				c.log.Warn("server error", zap.String("code", m.Code), zap.String("message", m.Message))
			}
			continue
		}
		if err := rep.HandleMessage(c.enc, frame); err != nil {
			c.log.Warn("apply", zap.String("type", base.Type), zap.Error(err))
		}
	}
}

func walk(ctx context.Context, rep *world.Replica, rng *rand.Rand, every time.Duration, logger *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		id := rep.ActorID()
		if id == 0 {
			continue
		}
		dir := board.Cardinal[rng.Intn(len(board.Cardinal))]
		if err := rep.Submit(world.IntentEnvelope{ActorID: id, Dir: dir}); err != nil {
			logger.Warn("submit", zap.Error(err))
			return
		}
	}
}
