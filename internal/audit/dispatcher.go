package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards records that do not fit the buffer. When unset,
	// they wait in an unbounded overflow list drained by the worker.
	DropIfFull bool
	// WriteTimeout bounds a single sink append. Zero means 5s.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Dispatcher asynchronously forwards audit records to a sink. A failing
// sink is logged and counted; it never reaches the request that produced
// the record. Emit never blocks on a slow sink.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	ch     chan Record
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	// mu guards overflow and closed. While overflow is non-empty new
	// records join it, so records reach the sink in Emit order.
	mu       sync.Mutex
	overflow []Record
	closed   bool

	written   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Record, cfg.BufferSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case rec := <-d.ch:
			d.write(rec)
		case <-d.wake:
			d.flush()
		case <-d.done:
			d.flush()
			return
		}
	}
}

// flush writes everything buffered, oldest first.
func (d *Dispatcher) flush() {
	for {
		for drained := false; !drained; {
			select {
			case rec := <-d.ch:
				d.write(rec)
			default:
				drained = true
			}
		}

		d.mu.Lock()
		batch := d.overflow
		d.overflow = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, rec := range batch {
			d.write(rec)
		}
	}
}

func (d *Dispatcher) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	if err := d.sink.Append(ctx, rec); err != nil {
		d.failed.Add(1)
		d.logger.Error("schoolauth: audit append failed",
			"error", err,
			"audit_id", rec.ID,
			"user_id", rec.UserID,
			"action", rec.Action,
		)
		return
	}
	d.written.Add(1)
}

// Emit queues rec. Missing ID and CreatedAt are filled in.
func (d *Dispatcher) Emit(ctx context.Context, rec Record) {
	if d == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = NewID(rec.CreatedAt)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if len(d.overflow) == 0 {
		select {
		case d.ch <- rec:
			d.mu.Unlock()
			return
		default:
		}
	}
	if d.cfg.DropIfFull {
		d.mu.Unlock()
		d.dropped.Add(1)
		return
	}
	d.overflow = append(d.overflow, rec)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many records wait in the overflow list.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.overflow)
}

// Close stops accepting records and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Written() uint64 {
	if d == nil {
		return 0
	}
	return d.written.Load()
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
