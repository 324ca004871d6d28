package transport

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultQueueSize bounds a worker's outbound queue.
	DefaultQueueSize = 64
	// DefaultResendInterval is how often pending items are retried.
	DefaultResendInterval = 5 * time.Second
)

// Sender performs one delivery attempt. A non-nil error is a transient
// failure; the item will be retried.
type Sender interface {
	Send(ctx context.Context, item *ledger.Item) (Outcome, error)
}

// FlushResult reports what a deferred sender transmitted.
type FlushResult struct {
	Sent   []*ledger.Item
	Failed []*ledger.Item
	// Wait is how long until the sender next wants to be flushed; zero
	// means it holds nothing.
	Wait time.Duration
}

// Flusher is implemented by senders that hold items back to combine them,
// such as SMS. The worker calls Flush after every loop iteration and
// sleeps no longer than the returned Wait.
type Flusher interface {
	Flush(ctx context.Context, force bool) FlushResult
}

// Holder is implemented by deferred senders that can give back items they
// accepted but have not transmitted yet.
type Holder interface {
	Release() []*ledger.Item
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Kind           Kind
	QueueSize      int
	ResendInterval time.Duration
	MaxSendFail    int
	Clock          TimeProvider
}

// Worker drains one transport's outbound queue. All sends happen on the
// goroutine running Run.
type Worker struct {
	kind           Kind
	queue          chan *ledger.Item
	kick           chan bool
	ledger         *ledger.Ledger
	sender         Sender
	flusher        Flusher
	session        *Session
	resendInterval time.Duration
	clock          TimeProvider

	flushWait time.Duration

	mu        sync.RWMutex
	deadGames map[uint32]bool
	closed    bool
}

// NewWorker creates a worker around sender.
func NewWorker(cfg WorkerConfig, sender Sender, session *Session) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = DefaultResendInterval
	}

	w := &Worker{
		kind:           cfg.Kind,
		queue:          make(chan *ledger.Item, cfg.QueueSize),
		kick:           make(chan bool, 1),
		sender:         sender,
		session:        session,
		resendInterval: cfg.ResendInterval,
		clock:          timeProvider(cfg.Clock),
		deadGames:      make(map[uint32]bool),
	}
	if f, ok := sender.(Flusher); ok {
		w.flusher = f
	}
	w.ledger = ledger.New(cfg.MaxSendFail, ledger.Hooks{
		OnRetry:   w.onRetry,
		OnFailout: w.onFailout,
	})
	return w
}

// Kind returns the worker's transport kind.
func (w *Worker) Kind() Kind {
	return w.kind
}

// Session returns the worker's session.
func (w *Worker) Session() *Session {
	return w.session
}

// Ledger exposes the retry ledger for status display.
func (w *Worker) Ledger() *ledger.Ledger {
	return w.ledger
}

// Enqueue hands item to the worker without blocking.
func (w *Worker) Enqueue(item *ledger.Item) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- item:
		return nil
	default:
		return NewError("enqueue", w.kind, item.Dest, ErrQueueFull)
	}
}

// Resend asks the worker to retry everything pending now. With force,
// fail counters are reset first so each item gets a full set of attempts.
func (w *Worker) Resend(force bool) {
	select {
	case w.kick <- force:
	default:
		// A request is already queued; upgrade it if needed.
		if force {
			select {
			case <-w.kick:
			default:
			}
			select {
			case w.kick <- true:
			default:
			}
		}
	}
}

// DropGame stops all delivery of payloads for gameID: pending items are
// removed now and queued ones are discarded when dequeued. Each removed
// item is reported as MessageDropped. It returns how many pending items
// were removed.
func (w *Worker) DropGame(gameID uint32) int {
	w.mu.Lock()
	w.deadGames[gameID] = true
	w.mu.Unlock()

	dropped := w.ledger.DropGame(gameID)
	for _, item := range dropped {
		w.session.Emit(event.Event{Type: event.MessageDropped, Dest: item.Dest, GameID: item.GameID})
	}
	return len(dropped)
}

func (w *Worker) isDead(gameID uint32) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.deadGames[gameID]
}

// Drain takes every item the worker still owns: pending ledger items,
// items a deferred sender holds, then queued items, each group oldest
// first. Queued payloads for dropped games are reported and discarded.
// The worker refuses new items afterwards. Call it only once Run has
// returned.
func (w *Worker) Drain() []*ledger.Item {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	items := w.ledger.Take()
	if h, ok := w.sender.(Holder); ok {
		items = append(items, h.Release()...)
	}
	for {
		select {
		case item := <-w.queue:
			if item.Cmd.HasPayload() && w.isDead(item.GameID) {
				w.session.Emit(event.Event{Type: event.MessageDropped, Dest: item.Dest, GameID: item.GameID})
				continue
			}
			items = append(items, item)
		default:
			w.session.Metrics().SetPending(w.kind.String(), 0)
			return items
		}
	}
}

// Adopt takes over items drained from another worker. They start again
// with no failures counted and are tried on the next loop iteration.
// Pings are queued instead since they are never retried.
func (w *Worker) Adopt(items []*ledger.Item) {
	if len(items) == 0 {
		return
	}
	for _, item := range items {
		item.FailCount = 0
		if item.NoRetry {
			if err := w.Enqueue(item); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Worker.Adopt",
					"transport": w.kind.String(),
					"dest":      item.Dest,
					"error":     err.Error(),
				}).Debug("Dropping carried ping")
			}
			continue
		}
		if err := w.ledger.Record(item.Dest, item); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Worker.Adopt",
				"transport": w.kind.String(),
				"dest":      item.Dest,
				"error":     err.Error(),
			}).Warn("Item already pending")
		}
	}
	w.session.Metrics().SetPending(w.kind.String(), w.ledger.Len())
	w.Resend(false)
}

// Run processes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Worker.Run",
		"transport": w.kind.String(),
	})
	logger.Info("Worker started")
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.session.Set(StateNone)
		logger.Info("Worker stopped")
	}()

	for {
		var timer *time.Timer
		var timeout <-chan time.Time
		if d := w.nextTimeout(); d > 0 {
			timer = w.clock.NewTimer(d)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case item := <-w.queue:
			if ctx.Err() != nil {
				w.keep(item)
				return
			}
			w.safely(ctx, "handle", func() { w.handle(ctx, item) })
		case force := <-w.kick:
			if force {
				w.ledger.ResetFailCounts()
			}
			w.safely(ctx, "resend", func() { w.resendAll(ctx) })
			w.safely(ctx, "flush", func() { w.flush(ctx, force) })
		case <-timeout:
			w.safely(ctx, "resend", func() { w.resendAll(ctx) })
		}
		if timer != nil {
			timer.Stop()
		}

		w.safely(ctx, "flush", func() { w.flush(ctx, false) })
		w.session.Metrics().SetPending(w.kind.String(), w.ledger.Len())
	}
}

// nextTimeout picks how long the loop may block: forever when nothing is
// pending, otherwise until the next resend or flush is due.
func (w *Worker) nextTimeout() time.Duration {
	var d time.Duration
	if w.ledger.HasPending() {
		d = w.resendInterval
	}
	if w.flushWait > 0 && (d == 0 || w.flushWait < d) {
		d = w.flushWait
	}
	return d
}

// safely runs fn, turning a panic into a log entry so the loop survives.
func (w *Worker) safely(ctx context.Context, op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Worker.safely",
				"transport": w.kind.String(),
				"op":        op,
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			}).Error("Recovered panic in transport worker")
		}
	}()
	if ctx.Err() != nil {
		return
	}
	fn()
}

func (w *Worker) handle(ctx context.Context, item *ledger.Item) {
	if item.Cmd.HasPayload() && w.isDead(item.GameID) {
		w.session.Emit(event.Event{Type: event.MessageDropped, Dest: item.Dest, GameID: item.GameID})
		return
	}

	// Pings carry no ordering obligation and are never retried.
	if item.NoRetry {
		w.attempt(ctx, item)
		return
	}

	send := func(it *ledger.Item) ledger.Result { return w.attempt(ctx, it) }
	if !w.ledger.DrainAttempt(item.Dest, send) {
		if err := w.ledger.Record(item.Dest, item); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Worker.handle",
				"transport": w.kind.String(),
				"dest":      item.Dest,
				"error":     err.Error(),
			}).Warn("Item already pending")
		}
		return
	}
	switch w.attempt(ctx, item) {
	case ledger.Failed:
		w.ledger.Fail(item.Dest, item)
	case ledger.Interrupted:
		w.keep(item)
	}
}

// keep records an item taken off the queue during shutdown so Drain still
// finds it.
func (w *Worker) keep(item *ledger.Item) {
	if item.NoRetry || (item.Cmd.HasPayload() && w.isDead(item.GameID)) {
		return
	}
	_ = w.ledger.Record(item.Dest, item)
}

func (w *Worker) resendAll(ctx context.Context) {
	w.ledger.DrainAll(func(it *ledger.Item) ledger.Result { return w.attempt(ctx, it) })
}

func (w *Worker) flush(ctx context.Context, force bool) {
	if w.flusher == nil {
		return
	}
	res := w.flusher.Flush(ctx, force)
	w.flushWait = res.Wait

	for _, item := range res.Sent {
		w.report(item, OutcomeAccepted)
	}
	for _, item := range res.Failed {
		w.failed(item, nil)
		if !item.NoRetry {
			w.ledger.Fail(item.Dest, item)
		}
	}
}

// attempt makes one delivery attempt. Delivered covers application-level
// rejections too; a send cut short by shutdown is Interrupted.
func (w *Worker) attempt(ctx context.Context, item *ledger.Item) ledger.Result {
	start := w.clock.Now()
	outcome, err := w.sender.Send(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Worker.attempt",
				"transport": w.kind.String(),
				"dest":      item.Dest,
				"cmd":       item.Cmd.String(),
			}).Debug("Send interrupted by shutdown")
			return ledger.Interrupted
		}
		w.failed(item, err)
		return ledger.Failed
	}
	if outcome != OutcomeDeferred {
		w.session.Metrics().ObserveRoundTrip(w.kind.String(), w.clock.Now().Sub(start))
		w.report(item, outcome)
	}
	return ledger.Delivered
}

func (w *Worker) failed(item *ledger.Item, err error) {
	fields := logrus.Fields{
		"function":   "Worker.attempt",
		"transport":  w.kind.String(),
		"dest":       item.Dest,
		"cmd":        item.Cmd.String(),
		"game_id":    item.GameID,
		"fail_count": item.FailCount,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Warn("Delivery attempt failed")

	w.session.Metrics().Failed(w.kind.String())
	w.session.Status(event.Outbound, false, item.Dest, err)
}

// report turns a completed exchange into events.
func (w *Worker) report(item *ledger.Item, outcome Outcome) {
	w.session.Metrics().Sent(w.kind.String(), outcome.String())
	w.session.Status(event.Outbound, outcome != OutcomeBadProto, item.Dest, nil)

	e := event.Event{Dest: item.Dest, GameID: item.GameID}
	switch outcome {
	case OutcomeAccepted:
		if item.Cmd != protocol.CmdMesgSend {
			return
		}
		e.Type = event.MessageAccepted
	case OutcomeGameGone:
		e.Type = event.MessageNoGame
	case OutcomePonged:
		e.Type = event.HostPonged
	case OutcomeInviteAccepted:
		e.Type = event.NewGameSuccess
	case OutcomeInviteDuplicate:
		e.Type = event.NewGameDupRejected
	case OutcomeInviteDeclined:
		e.Type = event.NewGameFailure
	case OutcomeBadProto:
		e.Type = event.BadProto
	default:
		return
	}
	w.session.Emit(e)
}

func (w *Worker) onRetry(dest string, item ledger.Item) {
	w.session.Emit(event.Event{
		Type:    event.MessageResend,
		Dest:    dest,
		GameID:  item.GameID,
		Backoff: w.resendInterval,
		Attempt: item.FailCount,
	})
}

func (w *Worker) onFailout(dest string, item ledger.Item) {
	w.session.Metrics().Failout(w.kind.String())
	w.session.Emit(event.Event{
		Type:    event.MessageFailout,
		Dest:    dest,
		GameID:  item.GameID,
		Attempt: item.FailCount,
	})
}
