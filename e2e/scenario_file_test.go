package e2e

import (
	"bytes"
	"chat-relay/protocol"
	"crypto/rand"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type testFileSuite struct {
	BaseRelaySuite
}

func TestFileSuite(t *testing.T) {
	suite.Run(t, &testFileSuite{})
}

func (s *testFileSuite) TestBoundarySizes() {
	chunk := s.Config.ChunkSize
	nameA, nameB := s.Unique("sender"), s.Unique("receiver")
	a, b := s.Connect(nameA), s.Connect(nameB)

	for _, size := range []int{0, 1, chunk - 1, chunk, chunk + 1, 3*chunk + 5} {
		s.Run(fmt.Sprintf("%d bytes", size), func() {
			payload := make([]byte, size)
			_, err := rand.Read(payload)
			s.Require().NoError(err)
			filename := fmt.Sprintf("blob-%d.bin", size)

			s.Require().NoError(a.SendFile(s.Ctx(), nameB, filename, bytes.NewReader(payload), int64(size)))

			ev := s.Next(b)
			s.Require().NotNil(ev.File, "expected a file, got %s", ev.Frame.String())
			s.Require().Equal(nameA, ev.File.From)
			s.Require().Equal(filename, ev.File.Name)
			s.Require().Equal(payload, ev.File.Data)
		})
	}

	s.Step("control frames resume after the transfers")
	_, err := a.List(s.Ctx())
	s.Require().NoError(err)
}

func (s *testFileSuite) TestGroupFile() {
	group := s.Unique("share")
	nameA, nameB, nameC := s.Unique("a"), s.Unique("b"), s.Unique("c")
	a, b, c := s.Connect(nameA), s.Connect(nameB), s.Connect(nameC)
	_, err := a.CreateGroup(s.Ctx(), group)
	s.Require().NoError(err)
	_, err = b.JoinGroup(s.Ctx(), group)
	s.Require().NoError(err)
	_, err = c.JoinGroup(s.Ctx(), group)
	s.Require().NoError(err)

	payload := bytes.Repeat([]byte("relay"), 500)
	s.Require().NoError(a.SendFile(s.Ctx(), group, "notes.txt", bytes.NewReader(payload), int64(len(payload))))

	s.Step("every other member receives the file")
	s.Require().Equal(payload, s.Next(b).File.Data)
	s.Require().Equal(payload, s.Next(c).File.Data)
	s.Silent(a)
}

func (s *testFileSuite) TestAbortedTransfer() {
	nameA, nameB := s.Unique("quitter"), s.Unique("waiter")
	b := s.Connect(nameB)

	s.Step("raw sender announces 100 bytes")
	raw := s.DialRaw()
	s.Require().NoError(raw.SetDeadline(time.Now().Add(stepTimeout)))
	s.Require().NoError(protocol.WriteMessage(raw, nameA))
	f, err := protocol.ReadFrame(raw, 4096)
	s.Require().NoError(err)
	s.Require().Equal(protocol.TagNameOK, f.Tag)

	s.Require().NoError(protocol.WriteMessage(raw, protocol.New(protocol.TagFile, nameB, "cut.bin", strconv.Itoa(100)).String()))
	f, err = protocol.ReadFrame(raw, 4096)
	s.Require().NoError(err)
	s.Require().Equal(protocol.TagFileReady, f.Tag)

	s.Step("sender writes 40 bytes and hangs up")
	_, err = raw.Write(bytes.Repeat([]byte{0xAB}, 40))
	s.Require().NoError(err)
	s.Require().NoError(raw.Close())

	s.Step("receiver gets the declared length, zero padded, then an error")
	ev := s.Next(b)
	s.Require().NotNil(ev.File)
	s.Require().Len(ev.File.Data, 100)
	s.Require().Equal(bytes.Repeat([]byte{0xAB}, 40), ev.File.Data[:40])
	s.Require().Equal(make([]byte, 60), ev.File.Data[40:])
	ev = s.Next(b)
	s.Require().Equal(protocol.TagError, ev.Frame.Tag)
	s.Require().Contains(ev.Frame.Arg(0), "transfer_truncated")

	s.Step("the sender's name is released")
	s.Require().Eventually(func() bool {
		return s.Dial().Register(s.Ctx(), nameA) == nil
	}, stepTimeout, 50*time.Millisecond)

	s.Step("the receiver keeps working")
	_, err = b.List(s.Ctx())
	s.Require().NoError(err)
}
