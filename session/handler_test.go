package session

import (
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"chat-relay/transport"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testTimeout = 2 * time.Second

type harness struct {
	t        *testing.T
	ctx      context.Context
	handler  *Handler
	registry *runtime.Registry
}

func newHarness(t *testing.T, stored map[string][]string) *harness {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockGroupStore(ctrl)
	store.EXPECT().LoadGroups().Return(stored, nil).AnyTimes()
	store.EXPECT().InsertGroup(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().AddMember(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().RemoveMember(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().DeleteGroup(gomock.Any()).Return(nil).AnyTimes()

	log := slog.Default()
	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry(log, store, metrics, 10)
	require.NoError(t, registry.Load())
	router := runtime.NewRouter(log, registry, metrics)
	relay := runtime.NewRelay(log, registry, router, metrics, runtime.RelayOptions{ChunkSize: 16, ReadTimeout: testTimeout})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{
		t:        t,
		ctx:      ctx,
		handler:  NewHandler(log, registry, router, relay, metrics, Options{MaxFileSize: 1024}),
		registry: registry,
	}
}

func (h *harness) dial() net.Conn {
	serverSide, clientSide := net.Pipe()
	conn := transport.NewConn(serverSide, transport.Options{MaxFrameSize: 4096, WriteTimeout: testTimeout})
	go h.handler.Serve(h.ctx, conn)
	h.t.Cleanup(func() { _ = clientSide.Close() })
	return clientSide
}

// login dials and registers name.
func (h *harness) login(name string) net.Conn {
	c := h.dial()
	write(h.t, c, name)
	require.Equal(h.t, protocol.TagNameOK, read(h.t, c).Tag)
	return c
}

func write(t *testing.T, c net.Conn, payload string) {
	require.NoError(t, c.SetWriteDeadline(time.Now().Add(testTimeout)))
	require.NoError(t, protocol.WriteMessage(c, payload))
}

func read(t *testing.T, c net.Conn) protocol.Frame {
	require.NoError(t, c.SetReadDeadline(time.Now().Add(testTimeout)))
	f, err := protocol.ReadFrame(c, 4096)
	require.NoError(t, err)
	return f
}

func TestSession_Name_Conflict_Then_Retry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)

	// Given alice is registered
	_ = h.login("alice")

	// When a second client asks for the same name
	c := h.dial()
	write(t, c, "alice")

	// Then it is refused and may retry with another one
	req.Equal("ERRO|name_taken: alice", read(t, c).String())
	write(t, c, "alice2")
	req.Equal(protocol.TagNameOK, read(t, c).Tag)
	req.Equal([]string{"alice", "alice2"}, h.registry.Snapshot())
}

func TestSession_Invalid_Name(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	c := h.dial()

	write(t, c, "a|b")
	f := read(t, c)

	req.Equal(protocol.TagError, f.Tag)
	req.Contains(f.Arg(0), "invalid_name")
}

func TestSession_Group_Membership_Scenario(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	a := h.login("A")
	b := h.login("B")
	c := h.login("C")

	// Given A created team and C joined it
	write(t, a, "CRIAR_GRUPO|team")
	req.Equal("INFO|group team created", read(t, a).String())
	write(t, c, "ENTRAR_GRUPO|team")
	req.Equal("INFO|joined team", read(t, c).String())

	// When B, not a member, writes to team
	write(t, b, "MSG|team|hi")

	// Then B is told so
	f := read(t, b)
	req.Equal(protocol.TagError, f.Tag)
	req.Contains(f.Arg(0), "not_a_member")

	// When A adds B and B retries
	write(t, a, "ADD_GRUPO|B|team")
	req.Equal("INFO|A added you to team", read(t, b).String())
	req.Equal("INFO|B added to team", read(t, a).String())
	write(t, b, "MSG|team|hi")

	// Then every other member receives it exactly once
	req.Equal("MSG_GRUPO|team|B|hi", read(t, a).String())
	req.Equal("MSG_GRUPO|team|B|hi", read(t, c).String())

	write(t, a, "MEMBROS|team")
	req.Equal("INFO|members of team: A, B, C", read(t, a).String())
}

func TestSession_Private_Message_And_Listing(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	alice := h.login("alice")
	bob := h.login("bob")

	write(t, alice, "MSG|bob|one|two")
	req.Equal("MSG_PRIVADA|alice|one|two", read(t, bob).String())

	write(t, alice, "MSG|ghost|hello")
	req.Equal("ERRO|no_such_target: ghost", read(t, alice).String())

	write(t, alice, "FOO|ignored")
	write(t, alice, "LISTAR|")
	req.Equal("INFO|users: alice, bob; groups: ", read(t, alice).String())

	write(t, alice, "MSG|bob")
	req.Equal("ERRO|protocol_error: usage MSG|<to>|<text>", read(t, alice).String())
}

func TestSession_Quit_Unregisters(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	alice := h.login("alice")
	bob := h.login("bob")
	write(t, alice, "CRIAR_GRUPO|g")
	_ = read(t, alice)
	write(t, bob, "ENTRAR_GRUPO|g")
	_ = read(t, bob)

	// When bob quits
	write(t, bob, "SAIR")
	req.Equal("INFO|bye", read(t, bob).String())

	// Then his connection is closed and he is gone from every group
	_, err := protocol.ReadFrame(bob, 4096)
	req.ErrorIs(err, io.EOF)
	req.Eventually(func() bool {
		members, err := h.registry.Members("g")
		return err == nil && len(members) == 1 && members[0] == "alice"
	}, testTimeout, 10*time.Millisecond)
	req.Equal([]string{"alice"}, h.registry.Snapshot())
}

func TestSession_Offline_Messages_Delivered_On_Login(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, map[string][]string{"team": {"alice", "bob"}})
	alice := h.login("alice")

	// Given bob is an offline member of team
	write(t, alice, "MSG|team|first")
	write(t, alice, "MSG|team|second")
	req.Eventually(func() bool { return h.registry.Pending("bob") == 2 }, testTimeout, 10*time.Millisecond)

	// When bob logs in
	bob := h.login("bob")

	// Then the messages follow NOME_OK in order
	req.Equal("MSG_GRUPO|team|alice|first", read(t, bob).String())
	req.Equal("MSG_GRUPO|team|alice|second", read(t, bob).String())
}

func TestSession_File_Transfer_Then_Commands_Resume(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	alice := h.login("alice")
	bob := h.login("bob")
	payload := []byte("hello, file relay")

	// When alice uploads a file to bob
	write(t, alice, "ARQUIVO|bob|note.txt|"+strconv.Itoa(len(payload)))
	req.Equal(protocol.TagFileReady, read(t, alice).Tag)
	go func() { _, _ = alice.Write(payload) }()

	// Then bob receives the header and exactly the payload
	header := read(t, bob)
	req.Equal("FILE_TRANSFER|alice|note.txt|"+strconv.Itoa(len(payload)), header.String())
	got := make([]byte, len(payload))
	req.NoError(bob.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err := io.ReadFull(bob, got)
	req.NoError(err)
	req.Equal(payload, got)
	req.Equal(protocol.TagFileDone, read(t, alice).Tag)

	// And alice's commands are parsed again
	write(t, alice, "LISTAR")
	req.Equal("INFO|users: alice, bob; groups: ", read(t, alice).String())
}

func TestSession_Rejected_File_Request_Releases_Reader(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	alice := h.login("alice")
	_ = h.login("bob")

	write(t, alice, "ARQUIVO|bob|huge.iso|999999")
	f := read(t, alice)
	req.Equal(protocol.TagError, f.Tag)
	req.Contains(f.Arg(0), "invalid_request")

	write(t, alice, "ARQUIVO|nobody|a.txt|3")
	req.Equal("ERRO|no_such_target: nobody", read(t, alice).String())

	write(t, alice, "LISTAR")
	req.Equal(protocol.TagInfo, read(t, alice).Tag)
}

func TestSession_Aborted_Upload_Closes_Sender(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	alice := h.login("alice")
	bob := h.login("bob")

	// Given alice announces 40 bytes
	write(t, alice, "ARQUIVO|bob|cut.bin|40")
	req.Equal(protocol.TagFileReady, read(t, alice).Tag)

	// When she sends 10 and hangs up
	go func() {
		_, _ = alice.Write(make([]byte, 10))
		_ = alice.Close()
	}()

	// Then bob still gets 40 bytes followed by an error
	req.Equal("FILE_TRANSFER|alice|cut.bin|40", read(t, bob).String())
	got := make([]byte, 40)
	req.NoError(bob.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err := io.ReadFull(bob, got)
	req.NoError(err)
	f := read(t, bob)
	req.Equal(protocol.TagError, f.Tag)
	req.Contains(f.Arg(0), "transfer_truncated")

	// And alice's session is torn down
	req.Eventually(func() bool {
		_, online := h.registry.Lookup("alice")
		return !online
	}, testTimeout, 10*time.Millisecond)
}
