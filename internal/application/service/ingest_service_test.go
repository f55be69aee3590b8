package service

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
)

type submission struct {
	mint   string
	events int
}

// recordingMonitor is an in-memory MonitoringService
type recordingMonitor struct {
	mu          sync.Mutex
	sessions    map[string]service.SessionOptions
	submissions []submission
	stopped     []string
	busy        bool
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{sessions: map[string]service.SessionOptions{}}
}

func (m *recordingMonitor) StartSession(ctx context.Context, tokenMint string, opts service.SessionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenMint] = opts
	return nil
}

func (m *recordingMonitor) StopSession(tokenMint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[tokenMint]; !ok {
		return service.ErrSessionNotFound
	}
	delete(m.sessions, tokenMint)
	m.stopped = append(m.stopped, tokenMint)
	return nil
}

func (m *recordingMonitor) Submit(tokenMint string, events []entity.TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[tokenMint]; !ok {
		return service.ErrSessionNotFound
	}
	if m.busy {
		return service.ErrSessionBusy
	}
	m.submissions = append(m.submissions, submission{mint: tokenMint, events: len(events)})
	return nil
}

func (m *recordingMonitor) AnalyzeOnce(ctx context.Context, tokenMint string, events []entity.TransferEvent, opts service.SessionOptions) (*entity.RiskDecision, error) {
	return nil, nil
}

func (m *recordingMonitor) LastDecision(tokenMint string) (*entity.RiskDecision, bool) {
	return nil, false
}

func (m *recordingMonitor) ActiveSessions() []string { return nil }

func (m *recordingMonitor) Shutdown(ctx context.Context) error { return nil }

func (m *recordingMonitor) snapshot() []submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]submission(nil), m.submissions...)
}

func transferFor(mint string, i int) entity.TransferEvent {
	return entity.TransferEvent{TokenMint: mint, From: "A", To: "B", Amount: 1, TimestampMs: int64(i + 1)}
}

func TestIngestFlushesFullBatchesPerMint(t *testing.T) {
	monitor := newRecordingMonitor()
	_ = monitor.StartSession(context.Background(), "X", service.SessionOptions{})
	_ = monitor.StartSession(context.Background(), "Y", service.SessionOptions{})
	s := NewIngestApplicationService(monitor, IngestConfig{BatchSize: 3, FlushInterval: time.Hour}, testLogger(t))

	events := make(chan entity.TransferEvent, 16)
	for i := 0; i < 4; i++ {
		events <- transferFor("X", i)
	}
	events <- transferFor("Y", 0)
	events <- transferFor("", 0)
	close(events)

	s.Run(context.Background(), events, nil)

	want := []submission{{"X", 3}, {"X", 1}, {"Y", 1}}
	if got := monitor.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("submissions = %v, want %v", got, want)
	}
}

func TestIngestFlushesOnTicker(t *testing.T) {
	monitor := newRecordingMonitor()
	_ = monitor.StartSession(context.Background(), "X", service.SessionOptions{})
	s := NewIngestApplicationService(monitor, IngestConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan entity.TransferEvent, 4)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, events, nil)
		close(done)
	}()

	events <- transferFor("X", 0)
	events <- transferFor("X", 1)

	waitFor(t, "ticker flush", func() bool { return len(monitor.snapshot()) == 1 })
	if got := monitor.snapshot()[0]; got != (submission{"X", 2}) {
		t.Errorf("submission = %v", got)
	}
	cancel()
	<-done
}

func TestIngestAutoStartsSessions(t *testing.T) {
	monitor := newRecordingMonitor()
	s := NewIngestApplicationService(monitor, IngestConfig{
		BatchSize:         2,
		AutoStartSessions: true,
		DefaultHeuristic:  0.5,
	}, testLogger(t))

	s.add(context.Background(), transferFor("NEW", 0))
	s.add(context.Background(), transferFor("NEW", 1))

	opts, ok := monitor.sessions["NEW"]
	if !ok {
		t.Fatal("session should have been started")
	}
	if opts.HeuristicSafety != 0.5 || opts.LPPoolAddress != nil {
		t.Errorf("auto-start options = %+v", opts)
	}
	if got := monitor.snapshot(); !reflect.DeepEqual(got, []submission{{"NEW", 2}}) {
		t.Errorf("submissions = %v", got)
	}
}

func TestIngestDropsBatchesWithoutSession(t *testing.T) {
	monitor := newRecordingMonitor()
	s := NewIngestApplicationService(monitor, IngestConfig{BatchSize: 1}, testLogger(t))

	s.add(context.Background(), transferFor("UNKNOWN", 0))
	if len(monitor.sessions) != 0 || len(monitor.snapshot()) != 0 {
		t.Error("batch without session should be dropped")
	}
	if len(s.pending) != 0 {
		t.Error("dropped batch must not stay pending")
	}
}

func TestHandleControl(t *testing.T) {
	monitor := newRecordingMonitor()
	s := NewIngestApplicationService(monitor, IngestConfig{BatchSize: 10, DefaultHeuristic: 0.3}, testLogger(t))
	ctx := context.Background()

	h := 0.9
	s.HandleControl(ctx, entity.ControlMessage{Action: entity.ControlActionStart, TokenMint: "A", Pool: "POOL", PreMigration: true, HeuristicSafety: &h})
	s.HandleControl(ctx, entity.ControlMessage{Action: entity.ControlActionStart, TokenMint: "B"})

	a := monitor.sessions["A"]
	if a.LPPoolAddress == nil || *a.LPPoolAddress != "POOL" || !a.PreMigration || a.HeuristicSafety != 0.9 {
		t.Errorf("session A options = %+v", a)
	}
	b := monitor.sessions["B"]
	if b.LPPoolAddress != nil || b.PreMigration || b.HeuristicSafety != 0.3 {
		t.Errorf("session B options = %+v", b)
	}

	s.add(ctx, transferFor("A", 0))
	s.HandleControl(ctx, entity.ControlMessage{Action: entity.ControlActionStop, TokenMint: "A"})
	s.HandleControl(ctx, entity.ControlMessage{Action: entity.ControlActionStop, TokenMint: "A"})

	if !reflect.DeepEqual(monitor.stopped, []string{"A"}) {
		t.Errorf("stopped = %v", monitor.stopped)
	}
	if _, ok := s.pending["A"]; ok {
		t.Error("pending events of a stopped token should be discarded")
	}
}

func TestIngestWithMonitoringService(t *testing.T) {
	f := newFixture(t, newTestEngine(t), 4)
	s := NewIngestApplicationService(f.svc, IngestConfig{BatchSize: 10, AutoStartSessions: true}, testLogger(t))

	events := make(chan entity.TransferEvent, 16)
	for _, ev := range cleanEvents(10) {
		events <- ev
	}
	close(events)
	s.Run(context.Background(), events, nil)

	record := waitRecord(t, f.publisher.records)
	if record.Decision.TokenMint != testMint || record.Decision.EventCount != 10 {
		t.Errorf("decision = %+v", record.Decision)
	}
	if got := f.svc.ActiveSessions(); !reflect.DeepEqual(got, []string{testMint}) {
		t.Errorf("ActiveSessions = %v", got)
	}
}
