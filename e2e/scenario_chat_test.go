package e2e

import (
	"chat-relay/client"
	"chat-relay/protocol"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type testChatSuite struct {
	BaseRelaySuite
}

func TestChatSuite(t *testing.T) {
	suite.Run(t, &testChatSuite{})
}

func (s *testChatSuite) TestNameRace() {
	name := s.Unique("alice")
	first, second := s.Dial(), s.Dial()

	s.Step("two clients claim " + name + " at once")
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*client.Client{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Register(s.Ctx(), name)
		}()
	}
	wg.Wait()

	s.Step("exactly one wins, the other retries")
	failed := lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	s.Require().Len(failed, 1)
	var serverErr *client.ServerError
	s.Require().ErrorAs(failed[0], &serverErr)
	s.Require().Equal("name_taken", serverErr.Code)

	loser := first
	if errs[0] == nil {
		loser = second
	}
	s.Require().NoError(loser.Register(s.Ctx(), name+"2"))
}

func (s *testChatSuite) TestGroupMembership() {
	team := s.Unique("team")
	nameA, nameB, nameC := s.Unique("A"), s.Unique("B"), s.Unique("C")
	a, b, c := s.Connect(nameA), s.Connect(nameB), s.Connect(nameC)

	s.Run("Step 1: A creates the group and C joins", func() {
		_, err := a.CreateGroup(s.Ctx(), team)
		s.Require().NoError(err)
		_, err = c.JoinGroup(s.Ctx(), team)
		s.Require().NoError(err)
	})

	s.Run("Step 2: B is refused while not a member", func() {
		s.Require().NoError(b.Message(team, "hi"))
		ev := s.Next(b)
		s.Require().Equal(protocol.TagError, ev.Frame.Tag)
		s.Require().Contains(ev.Frame.Arg(0), "not_a_member")
	})

	s.Run("Step 3: A adds B, B is notified", func() {
		_, err := a.AddMember(s.Ctx(), nameB, team)
		s.Require().NoError(err)
		ev := s.Next(b)
		s.Require().Equal(protocol.TagInfo, ev.Frame.Tag)
		s.Require().Contains(ev.Frame.Arg(0), team)
	})

	s.Run("Step 4: B retries and every other member gets it once", func() {
		s.Require().NoError(b.Message(team, "hi"))
		want := protocol.New(protocol.TagGroup, team, nameB, "hi").String()
		s.Require().Equal(want, s.Next(a).Frame.String())
		s.Require().Equal(want, s.Next(c).Frame.String())
		s.Silent(a)
		s.Silent(b)
		s.Silent(c)
	})
}

func (s *testChatSuite) TestPrivateMessage() {
	nameA, nameB := s.Unique("alice"), s.Unique("bob")
	a, b := s.Connect(nameA), s.Connect(nameB)

	s.Step("text keeps its separators")
	s.Require().NoError(a.Message(nameB, "one|two"))
	s.Require().Equal(
		protocol.New(protocol.TagPrivate, nameA, "one|two").String(),
		s.Next(b).Frame.String(),
	)

	s.Step("unknown target is reported")
	s.Require().NoError(a.Message(s.Unique("ghost"), "hello"))
	ev := s.Next(a)
	s.Require().Equal(protocol.TagError, ev.Frame.Tag)
	s.Require().Contains(ev.Frame.Arg(0), "no_such_target")
}

func (s *testChatSuite) TestLeaveIsIdempotent() {
	group := s.Unique("g")
	nameA, nameB, nameC := s.Unique("a"), s.Unique("b"), s.Unique("c")
	a, b, c := s.Connect(nameA), s.Connect(nameB), s.Connect(nameC)

	_, err := a.CreateGroup(s.Ctx(), group)
	s.Require().NoError(err)
	for _, member := range []*client.Client{b, c} {
		_, err = member.JoinGroup(s.Ctx(), group)
		s.Require().NoError(err)
	}

	s.Step("b leaves twice")
	for range 2 {
		_, err = b.LeaveGroup(s.Ctx(), group)
		s.Require().NoError(err)
	}

	members, err := a.Members(s.Ctx(), group)
	s.Require().NoError(err)
	s.Require().Contains(members, nameA)
	s.Require().Contains(members, nameC)
	s.Require().NotContains(members, nameB)
}

func (s *testChatSuite) TestQuit() {
	name := s.Unique("leaver")
	c := s.Connect(name)

	reply, err := c.Quit(s.Ctx())
	s.Require().NoError(err)
	s.Require().Equal("bye", reply)

	s.Step("the name is free again")
	s.Require().Eventually(func() bool {
		return s.Dial().Register(s.Ctx(), name) == nil
	}, stepTimeout, 50*time.Millisecond)
}
