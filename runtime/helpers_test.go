package runtime

import (
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/protocol"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"
)

// fakePeer records every frame it is sent.
type fakePeer struct {
	id      string
	mu      sync.Mutex
	frames  []protocol.Frame
	sendErr error
	closed  atomic.Bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{id: uuid.NewString()}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(f protocol.Frame) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return nil
}

func (p *fakePeer) OpenStream(protocol.Frame) (io.WriteCloser, error) {
	return nil, fmt.Errorf("fake peer has no stream")
}

func (p *fakePeer) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePeer) Frames() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Frame(nil), p.frames...)
}

// acceptingStore is a store that accepts every mutation.
func acceptingStore(ctrl *gomock.Controller) *mocks.MockGroupStore {
	store := mocks.NewMockGroupStore(ctrl)
	store.EXPECT().LoadGroups().Return(map[string][]string{}, nil).AnyTimes()
	store.EXPECT().InsertGroup(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().AddMember(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().RemoveMember(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().DeleteGroup(gomock.Any()).Return(nil).AnyTimes()
	return store
}

func newTestRegistry(t *testing.T, mailboxCapacity int) *Registry {
	ctrl := gomock.NewController(t)
	return NewRegistry(slog.Default(), acceptingStore(ctrl), observability.NewMetrics(), mailboxCapacity)
}
