// internal/engine/engine_test.go
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emeter/meterpoll/internal/catalog"
	"github.com/emeter/meterpoll/internal/decode"
	"github.com/emeter/meterpoll/internal/transport"
)

// mockSession scripts per-address failures. Responses default to the
// register pair encoding float32(1.0) high-word-first.
type mockSession struct {
	mu       sync.Mutex
	failAddr map[uint16]error
	failAll  error
	words    []uint16
	delay    time.Duration

	reads  int
	closed int
}

func (m *mockSession) ReadRegisters(ctx context.Context, fc byte, addr, qty uint16) ([]uint16, error) {
	m.mu.Lock()
	m.reads++
	failAll := m.failAll
	failAddr := m.failAddr[addr]
	words := m.words
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &transport.Error{Kind: transport.KindPortUnavailable}
		case <-time.After(delay):
		}
	}

	if failAll != nil {
		return nil, failAll
	}
	if failAddr != nil {
		return nil, failAddr
	}
	if words != nil {
		out := make([]uint16, len(words))
		copy(out, words)
		return out, nil
	}
	if qty == 1 {
		return []uint16{42}, nil
	}
	return []uint16{0x3F80, 0x0000}, nil // 1.0
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockSession) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *mockSession) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func threeRegs() []catalog.RegisterSpec {
	return []catalog.RegisterSpec{
		{Name: "A", Address: 0, FC: catalog.ReadInput, Width: catalog.Double, Scale: 1},
		{Name: "B", Address: 10, FC: catalog.ReadInput, Width: catalog.Double, Scale: 1},
		{Name: "C", Address: 20, FC: catalog.ReadHolding, Width: catalog.Double, Scale: 1},
	}
}

func startEngine(t *testing.T, specs []catalog.RegisterSpec, factory SessionFactory, interval time.Duration) *Engine {
	t.Helper()

	cat, err := catalog.Load(specs)
	if err != nil {
		t.Fatalf("catalog.Load err=%v", err)
	}

	e, err := New(Options{
		Catalog:  cat,
		Interval: interval,
		Retries:  1,
		Factory:  factory,
	})
	if err != nil {
		t.Fatalf("New err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

// waitFor polls the snapshot until cond holds or the deadline passes.
func waitFor(t *testing.T, e *Engine, what string, cond func(*Snapshot) bool) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap := e.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, e.Snapshot())
	return nil
}

func factoryFor(m *mockSession) SessionFactory {
	return func(transport.Config) (Session, error) { return m, nil }
}

func TestCycle_OneRegisterTimeoutDoesNotAbort(t *testing.T) {
	mock := &mockSession{failAddr: map[uint16]error{
		10: &transport.Error{Kind: transport.KindTimeout},
	}}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	e.Connect(transport.Config{})

	snap := waitFor(t, e, "mixed cycle", func(s *Snapshot) bool {
		return s.Conn == Connected &&
			s.Readings["A"].Status == ReadingOK &&
			s.Readings["B"].Status == ReadingError &&
			s.Readings["C"].Status == ReadingOK
	})

	if v := snap.Readings["A"].Value; v != 1.0 {
		t.Fatalf("A value=%v want 1.0", v)
	}
	if snap.Readings["B"].HasValue {
		t.Fatalf("B must have no value")
	}
	if snap.Readings["B"].Err == "" {
		t.Fatalf("B must carry the failure text")
	}
}

func TestCycle_AllTransportFailuresFault(t *testing.T) {
	mock := &mockSession{failAll: &transport.Error{Kind: transport.KindTimeout}}
	good := &mockSession{}

	current := mock
	var mu sync.Mutex
	factory := func(transport.Config) (Session, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}

	e := startEngine(t, threeRegs(), factory, 10*time.Millisecond)
	e.Connect(transport.Config{})

	waitFor(t, e, "fault", func(s *Snapshot) bool {
		return s.Conn == Faulted && s.Err != ""
	})
	if mock.closeCount() != 1 {
		t.Fatalf("faulted session must be closed, closed=%d", mock.closeCount())
	}

	// Manual recovery: a fresh connect returns to polling.
	mu.Lock()
	current = good
	mu.Unlock()
	e.Connect(transport.Config{})

	waitFor(t, e, "recovery", func(s *Snapshot) bool {
		return s.Conn == Connected && s.Readings["A"].Status == ReadingOK
	})
}

// A meter answering with exception responses is alive: every register goes
// to error, but the connection does not fault.
func TestCycle_ExceptionsDoNotFault(t *testing.T) {
	mock := &mockSession{failAll: &transport.Error{Kind: transport.KindException, ExCode: 0x02}}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	e.Connect(transport.Config{})

	waitFor(t, e, "exception cycle", func(s *Snapshot) bool {
		return s.Conn == Connected &&
			s.Readings["A"].Status == ReadingError &&
			s.Readings["B"].Status == ReadingError &&
			s.Readings["C"].Status == ReadingError
	})
}

func TestRetry_TransportErrorsRetryExceptionsDoNot(t *testing.T) {
	// Retries=1: a timeout register is attempted twice per cycle, an
	// exception register once, a good one once.
	mock := &mockSession{failAddr: map[uint16]error{
		0:  &transport.Error{Kind: transport.KindTimeout},
		10: &transport.Error{Kind: transport.KindException, ExCode: 0x02},
	}}
	e := startEngine(t, threeRegs(), factoryFor(mock), time.Hour)

	e.Connect(transport.Config{})

	waitFor(t, e, "first cycle", func(s *Snapshot) bool {
		return s.Conn == Connected && s.Readings["C"].Status == ReadingOK
	})

	if got := mock.readCount(); got != 4 {
		t.Fatalf("reads=%d want 4 (2 timeout attempts + 1 exception + 1 ok)", got)
	}
}

func TestDisconnect_MarksAllStale(t *testing.T) {
	mock := &mockSession{}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	e.Connect(transport.Config{})
	waitFor(t, e, "values", func(s *Snapshot) bool {
		return s.Conn == Connected && s.Readings["A"].Status == ReadingOK
	})

	e.Disconnect()
	snap := waitFor(t, e, "disconnect", func(s *Snapshot) bool {
		return s.Conn == Disconnected
	})

	for _, name := range snap.Order {
		r := snap.Readings[name]
		if r.Status != ReadingStale {
			t.Fatalf("%s status=%v want stale", name, r.Status)
		}
		if !r.HasValue {
			t.Fatalf("%s must keep its last value", name)
		}
	}
	if mock.closeCount() != 1 {
		t.Fatalf("session closed %d times, want 1", mock.closeCount())
	}
}

// Disconnect lands between register reads, bounded by one read, never by a
// whole cycle or the poll interval.
func TestDisconnect_ObservedMidCycle(t *testing.T) {
	var specs []catalog.RegisterSpec
	for i := 0; i < 10; i++ {
		specs = append(specs, catalog.RegisterSpec{
			Name:    string(rune('a' + i)),
			Address: uint16(i * 10),
			FC:      catalog.ReadInput,
			Width:   catalog.Double,
			Scale:   1,
		})
	}

	mock := &mockSession{delay: 100 * time.Millisecond} // full cycle ~1s
	e := startEngine(t, specs, factoryFor(mock), time.Hour)

	e.Connect(transport.Config{})

	// Wait for the cycle to be under way.
	deadline := time.Now().Add(2 * time.Second)
	for mock.readCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if mock.readCount() == 0 {
		t.Fatalf("polling never started")
	}

	started := time.Now()
	e.Disconnect()
	waitFor(t, e, "mid-cycle disconnect", func(s *Snapshot) bool {
		return s.Conn == Disconnected
	})

	if elapsed := time.Since(started); elapsed > 600*time.Millisecond {
		t.Fatalf("disconnect took %v, must not wait out the cycle", elapsed)
	}
}

func TestConnectFailure_Faults(t *testing.T) {
	factory := func(transport.Config) (Session, error) {
		return nil, &transport.Error{Kind: transport.KindPortUnavailable}
	}
	e := startEngine(t, threeRegs(), factory, 10*time.Millisecond)

	e.Connect(transport.Config{})
	waitFor(t, e, "connect failure", func(s *Snapshot) bool {
		return s.Conn == Faulted && s.Err != ""
	})
}

func TestReloadCatalog_SwapsAtomically(t *testing.T) {
	mock := &mockSession{}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	e.Connect(transport.Config{})
	waitFor(t, e, "initial values", func(s *Snapshot) bool {
		return s.Readings["A"].Status == ReadingOK
	})

	err := e.ReloadCatalog([]catalog.RegisterSpec{
		{Name: "B", Address: 10, FC: catalog.ReadInput, Width: catalog.Double, Scale: 1},
		{Name: "D", Address: 30, FC: catalog.ReadInput, Width: catalog.Double, Scale: 1},
	})
	if err != nil {
		t.Fatalf("ReloadCatalog err=%v", err)
	}

	snap := waitFor(t, e, "reloaded catalog", func(s *Snapshot) bool {
		_, hasA := s.Readings["A"]
		return !hasA && s.Readings["D"].Status == ReadingOK
	})
	if len(snap.Order) != 2 {
		t.Fatalf("order=%v want [B D]", snap.Order)
	}
}

func TestReloadCatalog_RejectsBadEntries(t *testing.T) {
	mock := &mockSession{}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	err := e.ReloadCatalog([]catalog.RegisterSpec{
		{Name: "x", Address: 0, FC: catalog.ReadInput, Width: catalog.Double},
		{Name: "y", Address: 1, FC: catalog.ReadInput, Width: catalog.Double},
	})
	if err == nil {
		t.Fatalf("overlapping reload must fail synchronously")
	}
}

func TestSetWordOrder_AppliesNextCycle(t *testing.T) {
	// Words encode 1.0 only when read low-word-first.
	mock := &mockSession{words: []uint16{0x0000, 0x3F80}}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	e.Connect(transport.Config{})
	waitFor(t, e, "high-first decode", func(s *Snapshot) bool {
		r := s.Readings["A"]
		return r.Status == ReadingOK && r.Value != 1.0
	})

	e.SetWordOrder(decode.LowWordFirst)
	waitFor(t, e, "low-first decode", func(s *Snapshot) bool {
		return s.Readings["A"].Value == 1.0
	})
}

func TestSetInterval_Validation(t *testing.T) {
	mock := &mockSession{}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	if err := e.SetInterval(0); err == nil {
		t.Fatalf("zero interval must be rejected")
	}
	if err := e.SetInterval(50 * time.Millisecond); err != nil {
		t.Fatalf("SetInterval err=%v", err)
	}
}

func TestDecodeError_MarksRegisterOnly(t *testing.T) {
	// 0x7F80 0x0000 is +Inf high-word-first: a decode error, not transport.
	mock := &mockSession{words: []uint16{0x7F80, 0x0000}}
	e := startEngine(t, threeRegs(), factoryFor(mock), 10*time.Millisecond)

	e.Connect(transport.Config{})
	waitFor(t, e, "decode errors without fault", func(s *Snapshot) bool {
		return s.Conn == Connected &&
			s.Readings["A"].Status == ReadingError &&
			s.Readings["B"].Status == ReadingError &&
			s.Readings["C"].Status == ReadingError
	})
}
