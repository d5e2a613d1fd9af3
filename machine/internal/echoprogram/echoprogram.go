// Package echoprogram provides a trivial runner.Program used as the
// machine binary's default interpreter: it bounces every frame it
// receives on its one registered port straight back out. It exists to
// exercise the registration/binder/runner wiring end to end (spec
// section 8, scenario S1) without a real interpreter attached.
package echoprogram

import (
	"context"
	"sync"

	"github.com/chordhq/chord/machine/internal/binder"
)

// Program implements runner.Program. Bind must be called once the
// binder.Service exists, before the runner reaches Running — the
// machine process does this between registration.Run returning and
// the GrpcBinder starting to accept connections.
type Program struct {
	protocolURL string
	inbox       chan []byte

	mu  sync.Mutex
	svc *binder.Service
}

// New builds a Program that will echo frames on protocolURL.
func New(protocolURL string) *Program {
	return &Program{protocolURL: protocolURL, inbox: make(chan []byte, 64)}
}

// Bind attaches the binder.Service this program sends replies through.
func (p *Program) Bind(svc *binder.Service) {
	p.mu.Lock()
	p.svc = svc
	p.mu.Unlock()
}

// Handler returns the binder.Handler that feeds this program's inbox.
func (p *Program) Handler() binder.Handler { return (*handlerAdapter)(p) }

type handlerAdapter Program

func (h *handlerAdapter) Handle(data []byte) {
	cp := append([]byte(nil), data...)
	select {
	case h.inbox <- cp:
	default:
	}
}

// Run implements runner.Program: it echoes every received frame back
// out on the same protocol until ctx is canceled.
func (p *Program) Run(ctx context.Context) error {
	for {
		select {
		case data := <-p.inbox:
			p.mu.Lock()
			svc := p.svc
			p.mu.Unlock()
			if svc != nil {
				_ = svc.Send(p.protocolURL, data)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
