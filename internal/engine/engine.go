// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emeter/meterpoll/internal/catalog"
	"github.com/emeter/meterpoll/internal/decode"
	"github.com/emeter/meterpoll/internal/transport"
)

// Session abstracts the transport exchanges the engine needs.
// *transport.Session satisfies it; tests inject fakes.
type Session interface {
	ReadRegisters(ctx context.Context, fc byte, addr, qty uint16) ([]uint16, error)
	Close() error
}

// SessionFactory opens a session for a connect command. One attempt per
// call; the engine decides when to call it again.
type SessionFactory func(transport.Config) (Session, error)

// DefaultFactory opens a real serial session.
func DefaultFactory(cfg transport.Config) (Session, error) {
	return transport.Open(cfg)
}

// Options configures a new engine.
type Options struct {
	Catalog   *catalog.Catalog
	Interval  time.Duration
	WordOrder decode.WordOrder
	// Retries is the number of additional attempts per register after a
	// transport failure within one cycle.
	Retries int
	Factory  SessionFactory
	Log      *logrus.Logger
}

// Engine owns the poll loop. All serial I/O happens on the goroutine
// running Run; the presentation layer talks to it only through commands
// and the snapshot store.
type Engine struct {
	store   *Store
	cmds    chan command
	factory SessionFactory
	log     *logrus.Entry

	// Everything below is owned by the Run goroutine.
	cat      *catalog.Catalog
	interval time.Duration
	order    decode.WordOrder
	retries  int
	sess     Session
	conn     ConnState
	connErr  string
	readings map[string]Reading
}

// command carries a lifecycle or reconfiguration request into the loop.
type command interface{ isCommand() }

type connectCmd struct{ cfg transport.Config }
type disconnectCmd struct{}
type setIntervalCmd struct{ d time.Duration }
type setWordOrderCmd struct{ order decode.WordOrder }
type reloadCmd struct{ cat *catalog.Catalog }

func (connectCmd) isCommand()      {}
func (disconnectCmd) isCommand()   {}
func (setIntervalCmd) isCommand()  {}
func (setWordOrderCmd) isCommand() {}
func (reloadCmd) isCommand()       {}

// New builds an engine. The catalog and interval are required; a nil
// factory defaults to real serial sessions.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("engine: interval must be > 0")
	}
	if opts.Retries < 0 {
		return nil, errors.New("engine: retries must be >= 0")
	}
	if opts.Factory == nil {
		opts.Factory = DefaultFactory
	}
	if opts.Log == nil {
		opts.Log = logrus.New()
	}

	e := &Engine{
		store:    NewStore(),
		cmds:     make(chan command, 8),
		factory:  opts.Factory,
		log:      opts.Log.WithField("component", "engine"),
		cat:      opts.Catalog,
		interval: opts.Interval,
		order:    opts.WordOrder,
		retries:  opts.Retries,
		conn:     Disconnected,
	}
	e.rebuildReadings()
	return e, nil
}

// Snapshot returns the latest published snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.store.Read()
}

// Connect asks the loop to open a session and start polling.
func (e *Engine) Connect(cfg transport.Config) {
	e.cmds <- connectCmd{cfg: cfg}
}

// Disconnect asks the loop to stop polling and release the port. It is
// observed between register reads, not only between cycles.
func (e *Engine) Disconnect() {
	e.cmds <- disconnectCmd{}
}

// SetInterval changes the poll interval from the next cycle boundary.
func (e *Engine) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("engine: interval must be > 0")
	}
	e.cmds <- setIntervalCmd{d: d}
	return nil
}

// SetWordOrder changes 32-bit word order from the next cycle boundary.
func (e *Engine) SetWordOrder(order decode.WordOrder) {
	e.cmds <- setWordOrderCmd{order: order}
}

// ReloadCatalog validates entries synchronously and, on success, swaps the
// catalog at the next cycle boundary. Readings for removed names are
// dropped; new names start stale.
func (e *Engine) ReloadCatalog(entries []catalog.RegisterSpec) error {
	c, err := catalog.Load(entries)
	if err != nil {
		return err
	}
	e.cmds <- reloadCmd{cat: c}
	return nil
}

// Run drives the state machine until ctx is cancelled. It must be the only
// goroutine touching the session.
func (e *Engine) Run(ctx context.Context) {
	defer e.teardown()

	e.publish()

	for {
		if e.sess == nil {
			// Idle or Faulted: nothing to poll, wait for a command.
			select {
			case <-ctx.Done():
				return
			case cmd := <-e.cmds:
				e.apply(cmd)
			}
			continue
		}

		start := time.Now()
		if !e.pollCycle(ctx) {
			return
		}
		if e.sess == nil {
			// Disconnected or faulted during the cycle.
			continue
		}
		if !e.waitNextCycle(ctx, start) {
			return
		}
	}
}

// apply executes one command on the loop goroutine.
func (e *Engine) apply(cmd command) {
	switch c := cmd.(type) {
	case connectCmd:
		if e.sess != nil {
			e.log.Warn("connect ignored: already connected")
			return
		}
		e.connect(c.cfg)
	case disconnectCmd:
		e.disconnect()
	case setIntervalCmd:
		e.interval = c.d
		e.log.WithField("interval", c.d).Info("poll interval changed")
	case setWordOrderCmd:
		e.order = c.order
		e.log.WithField("order", c.order).Info("word order changed")
	case reloadCmd:
		e.cat = c.cat
		e.rebuildReadings()
		e.log.WithField("registers", c.cat.Len()).Info("catalog reloaded")
		e.publish()
	}
}

func (e *Engine) connect(cfg transport.Config) {
	e.conn = Connecting
	e.connErr = ""
	e.publish()

	sess, err := e.factory(cfg)
	if err != nil {
		e.conn = Faulted
		e.connErr = err.Error()
		e.publish()
		e.log.WithError(err).Error("connect failed")
		return
	}

	e.sess = sess
	e.conn = Connected
	e.publish()
	e.log.WithFields(logrus.Fields{
		"port": cfg.Port, "baud": cfg.BaudRate, "slave": cfg.SlaveID,
	}).Info("connected")
}

// disconnect closes the session and marks every reading stale. The last
// values stay visible.
func (e *Engine) disconnect() {
	if e.sess != nil {
		if err := e.sess.Close(); err != nil {
			e.log.WithError(err).Warn("close failed")
		}
		e.sess = nil
	}
	for name, r := range e.readings {
		r.Status = ReadingStale
		r.Err = ""
		e.readings[name] = r
	}
	e.conn = Disconnected
	e.connErr = ""
	e.publish()
	e.log.Info("disconnected")
}

// fault closes the session and surfaces a connection-level error.
// Recovery is an explicit Connect; the engine never auto-reconnects.
func (e *Engine) fault(msg string) {
	if e.sess != nil {
		_ = e.sess.Close()
		e.sess = nil
	}
	for name, r := range e.readings {
		r.Status = ReadingStale
		e.readings[name] = r
	}
	e.conn = Faulted
	e.connErr = msg
	e.publish()
	e.log.WithField("reason", msg).Error("connection fault")
}

// pollCycle reads every catalog register once, in catalog order, then
// publishes a complete snapshot. Returns false only when ctx is done.
//
// Word order and catalog are captured at cycle start: reconfiguration
// commands arriving mid-cycle take effect from the next cycle.
func (e *Engine) pollCycle(ctx context.Context) bool {
	specs := e.cat.Specs()
	order := e.order

	transportFails := 0

	for _, spec := range specs {
		// A disconnect must not wait for the cycle to finish.
		for {
			select {
			case <-ctx.Done():
				return false
			case cmd := <-e.cmds:
				e.apply(cmd)
				if e.sess == nil {
					return true
				}
				continue
			default:
			}
			break
		}

		words, err := e.readWithRetry(ctx, spec)
		now := time.Now()
		r := e.readings[spec.Name]

		if err != nil {
			if isTransportLevel(err) {
				transportFails++
			}
			r.Status = ReadingError
			r.Err = err.Error()
			e.readings[spec.Name] = r
			e.log.WithError(err).WithField("register", spec.Name).Warn("read failed")
			continue
		}

		r.Raw = words

		var v float64
		var derr error
		switch spec.Width {
		case catalog.Single:
			v, derr = decode.Single(words)
		default:
			v, derr = decode.Float32(words, order)
		}

		if derr != nil {
			r.Status = ReadingError
			r.Err = derr.Error()
			r.HasValue = false
			e.readings[spec.Name] = r
			e.log.WithError(derr).WithField("register", spec.Name).Warn("decode failed")
			continue
		}

		r.Value = decode.Scale(v, spec.Scale)
		r.HasValue = true
		r.Updated = now
		r.Status = ReadingOK
		r.Err = ""
		e.readings[spec.Name] = r
	}

	// Every register failing at the transport level means the bus or the
	// device is gone, not a bad register. A meter answering with exception
	// responses is alive and does not trip this.
	if len(specs) > 0 && transportFails == len(specs) {
		e.fault("all registers failed with transport errors")
		return true
	}

	e.publish()
	return true
}

// readWithRetry applies the per-register retry policy. Exception responses
// are not retried: the device answered, and asking again yields the same
// answer.
func (e *Engine) readWithRetry(ctx context.Context, spec catalog.RegisterSpec) ([]uint16, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		words, err := e.sess.ReadRegisters(ctx, byte(spec.FC), spec.Address, spec.Quantity())
		if err == nil {
			return words, nil
		}
		lastErr = err
		if transport.IsException(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// waitNextCycle sleeps out the remainder of the poll interval, staying
// responsive to commands. An overrun cycle starts the next one
// immediately; cycles never overlap or queue.
func (e *Engine) waitNextCycle(ctx context.Context, start time.Time) bool {
	remaining := e.interval - time.Since(start)
	if remaining <= 0 {
		return true
	}

	t := time.NewTimer(remaining)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-e.cmds:
			e.apply(cmd)
			if e.sess == nil {
				return true
			}
		case <-t.C:
			return true
		}
	}
}

// rebuildReadings reconciles per-register state with the current catalog:
// surviving names keep their last reading, new names start stale, removed
// names are dropped.
func (e *Engine) rebuildReadings() {
	next := make(map[string]Reading, e.cat.Len())
	for _, spec := range e.cat.Specs() {
		if r, ok := e.readings[spec.Name]; ok {
			r.Unit = spec.Unit
			next[spec.Name] = r
			continue
		}
		next[spec.Name] = Reading{
			Name:   spec.Name,
			Unit:   spec.Unit,
			Status: ReadingStale,
		}
	}
	e.readings = next
}

// publish copies the loop-owned state into a fresh immutable snapshot.
func (e *Engine) publish() {
	specs := e.cat.Specs()

	snap := &Snapshot{
		Readings: make(map[string]Reading, len(specs)),
		Order:    make([]string, 0, len(specs)),
		Conn:     e.conn,
		Err:      e.connErr,
		At:       time.Now(),
	}
	for _, spec := range specs {
		snap.Order = append(snap.Order, spec.Name)
		snap.Readings[spec.Name] = e.readings[spec.Name]
	}
	e.store.Publish(snap)
}

func (e *Engine) teardown() {
	if e.sess != nil {
		_ = e.sess.Close()
		e.sess = nil
	}
	for name, r := range e.readings {
		r.Status = ReadingStale
		e.readings[name] = r
	}
	e.conn = Disconnected
	e.publish()
}

// isTransportLevel reports whether err counts toward connection-level
// fault escalation. Exceptions and decode errors do not.
func isTransportLevel(err error) bool {
	k, ok := transport.KindOf(err)
	return ok && k != transport.KindException
}
