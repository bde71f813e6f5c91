package terminal

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/executor"
	"github.com/isdmx/runbox/metrics"
	"github.com/isdmx/runbox/project"
)

// Runner compiles and launches programs.
type Runner interface {
	Prepare(ctx context.Context, files []project.SourceFile, mainClass string) (*executor.Prepared, error)
	Launch(ctx context.Context, artifact compilecache.Artifact, entry string) (*executor.Run, error)
}

// Payload starts a program on a session.
type Payload struct {
	Files     []project.SourceFile `json:"files"`
	MainClass string               `json:"mainClass,omitempty"`
	Input     string               `json:"input,omitempty"`
}

// Config holds configuration for the session manager
type Config struct {
	InputQueue  int
	ChunkSize   int
	OutputGrace time.Duration
}

// Manager owns the sessions and the goroutines serving them.
type Manager struct {
	logger   *zap.Logger
	config   Config
	runner   Runner
	registry *Registry
	metrics  *metrics.Metrics

	tasks conc.WaitGroup
}

// NewManager creates a session manager.
func NewManager(logger *zap.Logger, config Config, runner Runner, registry *Registry, m *metrics.Metrics) *Manager {
	if config.InputQueue <= 0 {
		config.InputQueue = 64
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 4096
	}
	if config.OutputGrace <= 0 {
		config.OutputGrace = time.Second
	}
	return &Manager{
		logger:   logger,
		config:   config,
		runner:   runner,
		registry: registry,
		metrics:  m,
	}
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Open registers a new Idle session for conn and greets the client.
func (m *Manager) Open(conn Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     uuid.NewString(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		state:  Idle,
	}
	s.logger = m.logger.With(zap.String("session_id", s.ID))

	m.registry.add(s)
	m.metrics.SessionOpened()
	s.logger.Info("terminal session opened")

	s.send(Banner)
	return s
}

// Receive handles one client message. It never blocks on the program.
func (m *Manager) Receive(s *Session, message string) {
	s.mu.Lock()
	switch s.state {
	case Terminated:
		s.mu.Unlock()
	case Running:
		select {
		case s.input <- message:
			s.mu.Unlock()
		default:
			s.mu.Unlock()
			s.send(inputDropped)
		}
	case Compiling:
		s.mu.Unlock()
		s.send(busyNotice)
	default:
		if !isPayload(message) {
			s.mu.Unlock()
			s.send(idleNotice)
			return
		}
		s.state = Compiling
		s.mu.Unlock()
		m.tasks.Go(func() {
			m.execute(s, message)
		})
	}
}

func isPayload(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), "{") && strings.Contains(message, `"files"`)
}

func (m *Manager) execute(s *Session, message string) {
	var payload Payload
	if err := json.Unmarshal([]byte(message), &payload); err != nil {
		m.fail(s, "invalid payload: "+err.Error())
		return
	}

	s.send(compiling)
	prepared, err := m.runner.Prepare(s.ctx, payload.Files, payload.MainClass)
	if err != nil {
		m.fail(s, executor.ErrorMessage(err))
		return
	}
	defer prepared.Release()

	run, err := m.runner.Launch(s.ctx, prepared.Artifact(), prepared.Entry)
	if err != nil {
		m.fail(s, executor.ErrorMessage(err))
		return
	}

	input := make(chan string, m.config.InputQueue)
	if payload.Input != "" {
		input <- payload.Input
	}

	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		run.Close()
		return
	}
	s.state = Running
	s.run = run
	s.input = input
	s.mu.Unlock()

	log := s.logger.With(zap.String("entry", prepared.Entry), zap.String("mode", run.Mode))
	log.Info("program started")
	s.send(runningLine(prepared.Entry))

	m.tasks.Go(func() {
		pumpInput(log, run, input)
	})
	forwarded := make(chan struct{})
	m.tasks.Go(func() {
		defer close(forwarded)
		if err := forward(run.Output(), m.config.ChunkSize, s.send); err != nil {
			log.Debug("output stream closed", zap.Error(err))
		}
	})

	code, err := run.Wait()
	if err != nil {
		log.Warn("failed to wait for program", zap.Error(err))
	}
	select {
	case <-forwarded:
	case <-time.After(m.config.OutputGrace):
		run.CloseOutput()
		<-forwarded
	}

	s.mu.Lock()
	terminated := s.state == Terminated
	if !terminated {
		s.state = Idle
	}
	s.run = nil
	s.input = nil
	close(input)
	s.mu.Unlock()

	run.Close()
	log.Info("program finished", zap.Int("exit_code", code), zap.Bool("killed", run.Killed()))
	if !terminated {
		s.send(finishedLine(code))
	}
}

// pumpInput writes queued client input to the program until the queue is
// closed or the program exits.
func pumpInput(log *zap.Logger, run *executor.Run, input <-chan string) {
	for {
		select {
		case text, ok := <-input:
			if !ok {
				return
			}
			if _, err := io.WriteString(run.Stdin(), text); err != nil {
				log.Debug("failed to write program input", zap.Error(err))
				return
			}
		case <-run.Done():
			return
		}
	}
}

func (m *Manager) fail(s *Session, msg string) {
	s.mu.Lock()
	terminated := s.state == Terminated
	if !terminated {
		s.state = Idle
	}
	s.mu.Unlock()

	s.logger.Debug("run failed", zap.String("error", msg))
	if !terminated {
		s.send(errorLine(msg))
	}
}

// Close terminates s, killing its program if one is attached, and removes it
// from the registry. Closing twice is a no-op.
func (m *Manager) Close(s *Session) {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return
	}
	s.state = Terminated
	run := s.run
	s.mu.Unlock()

	s.cancel()
	if run != nil {
		if err := run.Kill(); err != nil {
			s.logger.Warn("failed to kill program", zap.Error(err))
		}
	}

	if m.registry.remove(s.ID) {
		m.metrics.SessionClosed()
	}
	s.logger.Info("terminal session closed", zap.Bool("killed_program", run != nil))
}

// Shutdown closes every session and waits for their goroutines to finish.
func (m *Manager) Shutdown() {
	for _, s := range m.registry.all() {
		m.Close(s)
	}
	m.tasks.Wait()
	m.logger.Info("terminal sessions stopped")
}
