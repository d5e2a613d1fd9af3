// Package binder implements GrpcBinder: the machine-side RemotingService
// that lets a ChordIsolate attach one gRPC stream per handler
// (Communicate), push control RPCs (Suspend/Resume/Terminate) into the
// LocalMachine, and subscribe to lifecycle events (Monitor).
//
// The per-stream write path is grounded on the teacher's
// server/internal/websocket/hub.go pattern: a single goroutine owns
// the outbound side of each connection and drains a buffered channel,
// so a writer never blocks the caller and two writes are never
// in-flight on the same stream at once — the channel itself is the
// "head of queue is the only message in flight" invariant, enforced by
// Go's channel semantics rather than by a hand-rolled queue + mutex.
// Monitor's fan-out to multiple subscribers is the same idea applied
// to a set of subscriber channels instead of one: state changes are
// copied out to a snapshot slice under a short lock and then published
// outside it, exactly as hub.broadcast does for its client set.
package binder

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/chordhq/chord/machine/internal/runner"
	"github.com/chordhq/chord/shared/remoting"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Handler processes inbound frames on one attached protocol stream.
// Handle is called synchronously from the stream's receive loop, so
// long-running work should be handed off internally.
type Handler interface {
	Handle(data []byte)
}

type registeredHandler struct {
	protocolURL      string
	handler          Handler
	requiredAtLaunch bool

	mu       sync.Mutex
	attached bool
	send     chan *remoting.Message
}

// Service is the machine's RemotingServiceServer implementation.
type Service struct {
	remoting.UnimplementedRemotingServiceServer

	machine *runner.LocalMachine
	log     *zap.Logger

	mu                sync.Mutex
	handlers          map[string]*registeredHandler
	remainingRequired int
	initCompleteOnce  sync.Once

	monitorsMu sync.Mutex
	monitors   map[*monitorSub]struct{}
}

type monitorSub struct {
	send chan *remoting.MonitorEvent
}

// New builds a Service bound to machine. Handlers must be registered
// with RegisterHandler before the machine's GrpcBinder starts serving.
func New(machine *runner.LocalMachine, log *zap.Logger) *Service {
	s := &Service{
		machine:  machine,
		log:      log.Named("binder"),
		handlers: make(map[string]*registeredHandler),
		monitors: make(map[*monitorSub]struct{}),
	}
	machine.OnStateChanged(s.broadcastState)
	machine.OnExit(s.broadcastExit)
	return s
}

// RegisterHandler registers h under protocolURL. requiredAtLaunch
// handlers gate NotifyInitComplete: the interpreter does not start
// until every one of them has an attached Communicate stream (spec
// section 4.5, step 7).
func (s *Service) RegisterHandler(protocolURL string, h Handler, requiredAtLaunch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[protocolURL] = &registeredHandler{protocolURL: protocolURL, handler: h, requiredAtLaunch: requiredAtLaunch}
	if requiredAtLaunch {
		s.remainingRequired++
	}
}

// Send enqueues data for delivery on the attached stream for
// protocolURL. Safe to call from any goroutine; returns an error if no
// stream is currently attached.
func (s *Service) Send(protocolURL string, data []byte) error {
	s.mu.Lock()
	rh, ok := s.handlers[protocolURL]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("binder: unknown protocol %q", protocolURL)
	}
	rh.mu.Lock()
	send := rh.send
	rh.mu.Unlock()
	if send == nil {
		return fmt.Errorf("binder: protocol %q has no attached stream", protocolURL)
	}
	select {
	case send <- &remoting.Message{Version: remoting.Version1, Data: data}:
		return nil
	default:
		return fmt.Errorf("binder: write queue full for protocol %q", protocolURL)
	}
}

// Communicate implements RemotingServiceServer. Exactly one protocol
// URL must be carried in stream metadata; it selects which registered
// handler this stream attaches to. A handler may have at most one
// attached stream at a time.
func (s *Service) Communicate(stream remoting.RemotingService_CommunicateServer) error {
	protocolURL, err := protocolURLFromContext(stream.Context())
	if err != nil {
		return err
	}

	s.mu.Lock()
	rh, ok := s.handlers[protocolURL]
	s.mu.Unlock()
	if !ok {
		return status.Errorf(codes.InvalidArgument, "unknown protocol %q", protocolURL)
	}

	rh.mu.Lock()
	if rh.attached {
		rh.mu.Unlock()
		return status.Errorf(codes.InvalidArgument, "protocol %q already has an attached stream", protocolURL)
	}
	rh.attached = true
	sendCh := make(chan *remoting.Message, 64)
	rh.send = sendCh
	rh.mu.Unlock()

	defer func() {
		rh.mu.Lock()
		rh.attached = false
		rh.send = nil
		rh.mu.Unlock()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sendCh {
			if err := stream.Send(msg); err != nil {
				s.log.Warn("communicate stream write failed", zap.String("protocol", protocolURL), zap.Error(err))
				return
			}
		}
	}()

	s.countdownRequired(rh)

	var recvErr error
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		rh.handler.Handle(msg.Data)
	}

	close(sendCh)
	<-writerDone
	return recvErr
}

func (s *Service) countdownRequired(rh *registeredHandler) {
	if !rh.requiredAtLaunch {
		return
	}
	s.mu.Lock()
	s.remainingRequired--
	done := s.remainingRequired <= 0
	s.mu.Unlock()
	if done {
		s.initCompleteOnce.Do(s.machine.NotifyInitComplete)
	}
}

func protocolURLFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.PermissionDenied, "missing stream metadata")
	}
	vals := md.Get(remoting.ProtocolUrlMetadataKey)
	if len(vals) != 1 {
		return "", status.Errorf(codes.PermissionDenied, "expected exactly one %s value, got %d", remoting.ProtocolUrlMetadataKey, len(vals))
	}
	return vals[0], nil
}

// Suspend, Resume, and Terminate forward to the LocalMachine. They
// return immediately; the resulting state change is observed over
// Monitor, not in the RPC reply.
func (s *Service) Suspend(ctx context.Context, _ *remoting.SuspendRequest) (*remoting.SuspendReply, error) {
	s.machine.Suspend()
	return &remoting.SuspendReply{}, nil
}

func (s *Service) Resume(ctx context.Context, _ *remoting.ResumeRequest) (*remoting.ResumeReply, error) {
	s.machine.Resume()
	return &remoting.ResumeReply{}, nil
}

func (s *Service) Terminate(ctx context.Context, _ *remoting.TerminateRequest) (*remoting.TerminateReply, error) {
	s.machine.Terminate()
	return &remoting.TerminateReply{}, nil
}

// Monitor implements the server-streaming subscription: it first
// emits the machine's current state (so a late subscriber never waits
// indefinitely for an event that already happened), then streams
// state_changed/machine_exit events until the terminal one, at which
// point it closes the stream.
func (s *Service) Monitor(_ *remoting.MonitorRequest, stream remoting.RemotingService_MonitorServer) error {
	sub := &monitorSub{send: make(chan *remoting.MonitorEvent, 16)}
	sub.send <- &remoting.MonitorEvent{StateChanged: &remoting.StateChanged{CurrState: s.machine.CurrentState()}}

	s.monitorsMu.Lock()
	s.monitors[sub] = struct{}{}
	s.monitorsMu.Unlock()
	defer func() {
		s.monitorsMu.Lock()
		delete(s.monitors, sub)
		s.monitorsMu.Unlock()
	}()

	for {
		select {
		case ev := <-sub.send:
			if err := stream.Send(ev); err != nil {
				return err
			}
			if ev.MachineExit != nil {
				return nil
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) broadcastState(state remoting.MachineState) {
	s.publish(&remoting.MonitorEvent{StateChanged: &remoting.StateChanged{CurrState: state}}, false)
}

func (s *Service) broadcastExit(exitStatus int32) {
	s.publish(&remoting.MonitorEvent{MachineExit: &remoting.MachineExit{ExitStatus: exitStatus}}, true)
}

// publish copies out the current subscriber set under a short lock and
// sends outside it, matching hub.broadcast's "never hold the lock
// during a network write" shape. Terminal events are sent with a
// blocking send: every Monitor loop is always either reading or about
// to read, so this cannot deadlock, and it guarantees every subscriber
// observes the same terminal state rather than racing a full buffer.
func (s *Service) publish(ev *remoting.MonitorEvent, terminal bool) {
	s.monitorsMu.Lock()
	subs := make([]*monitorSub, 0, len(s.monitors))
	for sub := range s.monitors {
		subs = append(subs, sub)
	}
	s.monitorsMu.Unlock()

	for _, sub := range subs {
		if terminal {
			sub.send <- ev
			continue
		}
		select {
		case sub.send <- ev:
		default:
			s.log.Warn("monitor subscriber is slow; dropping a non-terminal state_changed event")
		}
	}
}
