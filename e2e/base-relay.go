package e2e

import (
	"chat-relay/client"
	"chat-relay/infrastructure/storage"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/session"
	"chat-relay/transport"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

const stepTimeout = 5 * time.Second

type BaseRelaySuite struct {
	suite.Suite
	Config Config

	addr string
	db   *badger.DB
	stop context.CancelFunc
	done chan struct{}
}

// SetupSuite loads the environment configuration and, unless RELAY_ADDR is
// set, starts a relay backed by an in-memory badger store.
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	if s.Config.RelayAddr != "" {
		s.addr = s.Config.RelayAddr
		return
	}
	s.addr = s.startRelay()
}

func (s *BaseRelaySuite) TearDownSuite() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
	_ = s.db.Close()
}

func (s *BaseRelaySuite) startRelay() string {
	log := logs.GetLoggerFromString(s.Config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	s.Require().NoError(err)
	s.db = db

	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry(log, storage.NewGroupRepository(db, log), metrics, 100)
	s.Require().NoError(registry.Load())
	router := runtime.NewRouter(log, registry, metrics)
	relay := runtime.NewRelay(log, registry, router, metrics, runtime.RelayOptions{
		ChunkSize:   s.Config.ChunkSize,
		ReadTimeout: stepTimeout,
	})
	handler := session.NewHandler(log, registry, router, relay, metrics, session.Options{MaxFileSize: 64 << 20})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	server := session.NewServer(log, listener, handler, transport.Options{
		MaxFrameSize: 64 * 1024,
		WriteTimeout: stepTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})
	go func() {
		workers.NewSupervisor(log).Add(server).Run(ctx)
		close(s.done)
	}()
	return server.Addr().String()
}

// Step prints a colorized header for a scenario step
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Ctx returns a context bounded by the step timeout.
func (s *BaseRelaySuite) Ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

// Unique suffixes a name so scenarios never collide on a shared relay.
func (s *BaseRelaySuite) Unique(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

// Dial opens an unregistered client, closed when the test ends.
func (s *BaseRelaySuite) Dial() *client.Client {
	c, err := client.Dial(s.Ctx(), s.addr, client.Options{DialTimeout: stepTimeout})
	s.Require().NoError(err, "Failed to connect to relay at "+s.addr)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// DialRaw opens a plain TCP connection for byte-level scenarios.
func (s *BaseRelaySuite) DialRaw() net.Conn {
	conn, err := net.DialTimeout("tcp", s.addr, stepTimeout)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

// Connect dials and registers name.
func (s *BaseRelaySuite) Connect(name string) *client.Client {
	s.Step("connect " + name)
	c := s.Dial()
	s.Require().NoError(c.Register(s.Ctx(), name))
	return c
}

// Next waits for the next server push of c.
func (s *BaseRelaySuite) Next(c *client.Client) client.Event {
	ev, err := c.Next(s.Ctx())
	s.Require().NoError(err)
	return ev
}

// Silent asserts c receives nothing for a short while.
func (s *BaseRelaySuite) Silent(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ev, err := c.Next(ctx)
	s.Require().ErrorIs(err, context.DeadlineExceeded, "unexpected event %s", ev.Frame.String())
}
