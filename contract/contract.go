//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/protocol"
	"context"
	"io"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// FrameSender writes whole control frames.
type FrameSender interface {
	Send(f protocol.Frame) error
}

// Peer is the live connection handle held by the registry.
type Peer interface {
	FrameSender
	ID() string
	// OpenStream writes header and reserves the peer's writer for raw bytes
	// until the stream is closed.
	OpenStream(header protocol.Frame) (io.WriteCloser, error)
	Close() error
}

// GroupStore persists group membership. Every call is synchronous; an error
// means the mutation must not be applied in memory.
type GroupStore interface {
	LoadGroups() (map[string][]string, error)
	InsertGroup(name string, members []string) error
	AddMember(name, member string) error
	RemoveMember(name, member string) error
	DeleteGroup(name string) error
}
