package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsWorker periodically logs the relay counters together with the
// process resource usage.
type StatsWorker struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	interval time.Duration
	proc     *process.Process
}

func NewStatsWorker(log *slog.Logger, metrics *observability.Metrics, interval time.Duration) *StatsWorker {
	return &StatsWorker{log: log, metrics: metrics, interval: interval}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	if w.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return err
		}
		w.proc = proc
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats report")
			return nil
		case <-ticker.C:
			w.report()
		}
	}
}

func (w *StatsWorker) report() {
	snap := w.metrics.Snapshot()
	attrs := []any{
		"sessions", snap.Sessions,
		"messages_routed", snap.MessagesRouted,
		"messages_queued", snap.MessagesQueued,
		"messages_evicted", snap.MessagesEvicted,
		"peers_dropped", snap.PeersDropped,
		"transfers_ok", snap.TransfersOK,
		"transfers_failed", snap.TransfersFailed,
		"bytes_relayed", snap.BytesRelayed,
		"last_mime", snap.LastTransferMime,
		"uptime", snap.Uptime.Round(time.Second),
	}

	if mem, err := w.proc.MemoryInfo(); err != nil {
		w.log.Debug("Error while finding process memory", "err", err)
	} else {
		attrs = append(attrs, "rss_bytes", mem.RSS)
	}
	if cpu, err := w.proc.CPUPercent(); err != nil {
		w.log.Debug("Error while finding process cpu usage", "err", err)
	} else {
		attrs = append(attrs, "cpu_percent", cpu)
	}

	w.log.Info("Relay stats", attrs...)
}
