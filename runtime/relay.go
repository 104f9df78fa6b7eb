package runtime

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/transport"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const DefaultChunkSize = 32 * 1024

type RelayOptions struct {
	ChunkSize int
	// ReadTimeout bounds the wait for each chunk from the sender.
	ReadTimeout time.Duration
}

// Relay streams a declared-length file from a sender to every live
// recipient, one chunk at a time. Memory stays at one chunk per relay
// whatever the file size.
type Relay struct {
	log         *slog.Logger
	registry    *Registry
	router      *Router
	metrics     *observability.Metrics
	chunkSize   int
	readTimeout time.Duration
}

func NewRelay(log *slog.Logger, registry *Registry, router *Router, metrics *observability.Metrics, opts RelayOptions) *Relay {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Relay{
		log:         log,
		registry:    registry,
		router:      router,
		metrics:     metrics,
		chunkSize:   opts.ChunkSize,
		readTimeout: opts.ReadTimeout,
	}
}

// destination is one recipient stream; err is set once a write failed and
// the destination is out of the transfer.
type destination struct {
	name   string
	peer   contract.Peer
	stream io.WriteCloser
	err    error
}

// Relay runs one upload. The source connection is returned to Idle on every
// exit path. A returned error wrapping ErrTransferTruncated or
// ErrConnectionLost means the sender's stream can no longer be trusted.
func (rl *Relay) Relay(ctx context.Context, src *transport.Conn, sender string, req protocol.FileRequest) error {
	defer src.Transfer().End()

	res, err := rl.registry.Resolve(sender, req.To)
	if err != nil {
		return err
	}
	live := res.Live()
	if len(live) == 0 {
		return fmt.Errorf("%w: %s", errors.ErrNoReachableTarget, req.To)
	}

	// Acknowledge before taking any destination writer so that two users
	// sending to each other never wait on one another.
	if err := src.Reply(protocol.New(protocol.TagFileReady)); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}

	transferID := uuid.NewString()
	log := rl.log.With("transfer_id", transferID, "from", sender, "to", req.To, "file", req.Filename, "size", req.Size)

	header := protocol.New(protocol.TagFileTransfer, sender, req.Filename, strconv.FormatInt(req.Size, 10))
	dests := rl.open(log, live, header)
	if len(dests) == 0 {
		// The sender was already told to go ahead; its bytes must be consumed.
		if err := rl.discard(src, req.Size); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", errors.ErrNoReachableTarget, req.To)
	}

	mime, copyErr := rl.copy(ctx, log, src, dests, req.Size)
	for _, d := range alive(dests) {
		_ = d.stream.Close()
	}

	if copyErr != nil {
		for _, d := range alive(dests) {
			if err := d.peer.Send(protocol.Error(errors.ErrTransferTruncated.Error(), fmt.Sprintf("%s from %s", req.Filename, sender))); err != nil {
				log.Warn("Unable to notify destination of truncation", "user", d.name, "error", err)
			}
		}
		rl.metrics.TransferDone(mime, false)
		log.Warn("Transfer truncated", "error", copyErr)
		return copyErr
	}

	rl.metrics.TransferDone(mime, true)
	log.Info("Transfer completed", "mime", mime, "recipients", len(alive(dests)))
	if err := src.Reply(protocol.New(protocol.TagFileDone)); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	return nil
}

// open takes the writer of every destination, in name order so that two
// relays sharing destinations always lock them in the same sequence. A
// destination whose writer stays busy past the write timeout is skipped for
// this transfer but stays connected.
func (rl *Relay) open(log *slog.Logger, live []Target, header protocol.Frame) []*destination {
	live = slices.Clone(live)
	slices.SortFunc(live, func(a, b Target) int { return strings.Compare(a.Name, b.Name) })

	var dests []*destination
	for _, t := range live {
		stream, err := t.Peer.OpenStream(header)
		if errors.IsBusy(err) {
			log.Warn("Destination busy, skipped", "user", t.Name, "error", err)
			continue
		}
		if err != nil {
			log.Warn("Destination unreachable", "user", t.Name, "error", err)
			rl.router.Drop(t.Name, t.Peer)
			continue
		}
		dests = append(dests, &destination{name: t.Name, peer: t.Peer, stream: stream})
	}
	return dests
}

// copy reads exactly size bytes from src and forwards every chunk as soon as
// it is read. On a short read the missing bytes are zero-filled so live
// destinations can still parse what follows, and ErrTransferTruncated is
// returned.
func (rl *Relay) copy(ctx context.Context, log *slog.Logger, src *transport.Conn, dests []*destination, size int64) (string, error) {
	buf := make([]byte, rl.chunkSize)
	mime := ""
	remaining := size

	defer func() { _ = src.SetReadDeadline(time.Time{}) }()

	for remaining > 0 {
		n := int(min(int64(rl.chunkSize), remaining))
		if err := ctx.Err(); err != nil {
			rl.pad(log, dests, buf, remaining)
			return mime, fmt.Errorf("%w: %v", errors.ErrTransferTruncated, err)
		}
		if rl.readTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(rl.readTimeout))
		}

		read, err := io.ReadFull(src, buf[:n])
		if read > 0 {
			if mime == "" {
				mime = mimetype.Detect(buf[:read]).String()
			}
			rl.forward(log, dests, buf[:read])
			remaining -= int64(read)
		}
		if err != nil {
			rl.pad(log, dests, buf, remaining)
			return mime, fmt.Errorf("%w: %d of %d bytes received: %v", errors.ErrTransferTruncated, size-remaining, size, err)
		}
	}
	return mime, nil
}

// forward writes chunk to every live destination concurrently. A destination
// that fails is closed and dropped for the rest of the transfer.
func (rl *Relay) forward(log *slog.Logger, dests []*destination, chunk []byte) {
	var wg sync.WaitGroup
	for _, d := range alive(dests) {
		wg.Add(1)
		go func(d *destination) {
			defer wg.Done()
			if _, err := d.stream.Write(chunk); err != nil {
				d.err = fmt.Errorf("%w: %s: %v", errors.ErrPeerUnreachable, d.name, err)
			}
		}(d)
	}
	wg.Wait()

	for _, d := range dests {
		if d.err == nil || d.stream == nil {
			continue
		}
		log.Warn("Destination dropped mid-transfer", "user", d.name, "error", d.err)
		_ = d.stream.Close()
		d.stream = nil
		rl.router.Drop(d.name, d.peer)
	}
	rl.metrics.AddRelayedBytes(uint64(len(chunk) * len(alive(dests))))
}

// discard reads and drops size bytes from src with the same per-chunk read
// deadline as a normal relay.
func (rl *Relay) discard(src *transport.Conn, size int64) error {
	defer func() { _ = src.SetReadDeadline(time.Time{}) }()

	for remaining := size; remaining > 0; {
		n := min(int64(rl.chunkSize), remaining)
		if rl.readTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(rl.readTimeout))
		}
		read, err := io.CopyN(io.Discard, src, n)
		remaining -= read
		if err != nil {
			return fmt.Errorf("%w: %d of %d bytes received: %v", errors.ErrTransferTruncated, size-remaining, size, err)
		}
	}
	return nil
}

func (rl *Relay) pad(log *slog.Logger, dests []*destination, buf []byte, remaining int64) {
	clear(buf)
	for remaining > 0 && len(alive(dests)) > 0 {
		n := min(int64(len(buf)), remaining)
		rl.forward(log, dests, buf[:n])
		remaining -= n
	}
}

func alive(dests []*destination) []*destination {
	return lo.Filter(dests, func(d *destination, _ int) bool { return d.err == nil })
}
