package agentservice

import (
	"sync"

	"github.com/chordhq/chord/agent/internal/supervisor"
	"github.com/chordhq/chord/shared/proto"
)

// Each RPC handler below blocks on exactly one of these channel-backed
// waiters until the supervisor advances the handshake for its
// machineId. They exist precisely to give the supervisor a waiter
// implementation that needs no RPC machinery, per the design note in
// spec section 9 — this package is the "one implementation of the
// waiter interface" that happens to be an RPC reactor.

type spawnResult struct {
	signRequest *proto.SignCertificatesRequest
	err         error
}

type spawnWaiter struct {
	once sync.Once
	done chan spawnResult
}

func newSpawnWaiter() *spawnWaiter {
	return &spawnWaiter{done: make(chan spawnResult, 1)}
}

func (w *spawnWaiter) OnSpawnComplete(_ supervisor.MachineHandle, signRequest any) {
	w.once.Do(func() {
		w.done <- spawnResult{signRequest: signRequest.(*proto.SignCertificatesRequest)}
	})
}

func (w *spawnWaiter) OnSpawnStatus(err error) {
	w.once.Do(func() { w.done <- spawnResult{err: err} })
}

type signResult struct {
	runRequest *proto.RunMachineRequest
	err        error
}

type signWaiter struct {
	once sync.Once
	done chan signResult
}

func newSignWaiter() *signWaiter {
	return &signWaiter{done: make(chan signResult, 1)}
}

func (w *signWaiter) OnSignComplete(_ supervisor.MachineHandle, runRequest any) {
	w.once.Do(func() {
		w.done <- signResult{runRequest: runRequest.(*proto.RunMachineRequest)}
	})
}

func (w *signWaiter) OnSignStatus(err error) {
	w.once.Do(func() { w.done <- signResult{err: err} })
}

type readyResult struct {
	advertiseRequest *proto.AdvertiseEndpointsRequest
	err              error
}

type readyWaiter struct {
	once sync.Once
	done chan readyResult
}

func newReadyWaiter() *readyWaiter {
	return &readyWaiter{done: make(chan readyResult, 1)}
}

func (w *readyWaiter) OnReadyComplete(_ supervisor.MachineHandle, advertiseRequest any) {
	w.once.Do(func() {
		w.done <- readyResult{advertiseRequest: advertiseRequest.(*proto.AdvertiseEndpointsRequest)}
	})
}

func (w *readyWaiter) OnReadyStatus(err error) {
	w.once.Do(func() { w.done <- readyResult{err: err} })
}

type terminateResult struct {
	status supervisor.ExitStatus
	err    error
}

type terminateWaiter struct {
	once sync.Once
	done chan terminateResult
}

func newTerminateWaiter() *terminateWaiter {
	return &terminateWaiter{done: make(chan terminateResult, 1)}
}

func (w *terminateWaiter) OnTerminateComplete(status supervisor.ExitStatus) {
	w.once.Do(func() { w.done <- terminateResult{status: status} })
}

func (w *terminateWaiter) OnTerminateStatus(err error) {
	w.once.Do(func() { w.done <- terminateResult{err: err} })
}
