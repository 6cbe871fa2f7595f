// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package nodesvc implements the Node side of the Coordinator/Node control
// plane: the Listening → Preparing → Ready → Waiting → Running → Stopping →
// Complete state machine of spec.md §4.5, driving dataset preparation,
// worker startup, heartbeat emission, and RESULTS reporting over one
// Coordinator connection.
package nodesvc

import (
	"fmt"
	"io"
	"sync"
	"time"

	"iopulse/internal/node"
	"iopulse/internal/protocol"
	"iopulse/internal/worker"
	"iopulse/stats"
)

// maxStartWait bounds the busy-wait in awaitStart against a clock that
// never arrives (e.g. a malformed START), so a session cannot hang forever.
const maxStartWait = time.Minute

// PrepareFunc runs dataset preparation for the workload; a no-op if the
// workload needs none. Returning an error aborts the session with ERROR.
type PrepareFunc func(protocol.WorkloadSpec, []protocol.WorkerAssignment) error

// BuildWorkersFunc constructs one *worker.Worker per local worker assigned
// to this node by CONFIG.
type BuildWorkersFunc func(protocol.ConfigMsg) ([]*worker.Worker, error)

// Session runs one Node's lifecycle for a single Coordinator connection.
type Session struct {
	ID       string
	rw       io.ReadWriteCloser
	Prepare  PrepareFunc
	Build    BuildWorkersFunc
	Registry *node.Registry
	Sampler  node.Sampler
}

// New constructs a Session bound to rw; Prepare and Build may be nil/left
// to zero value for tests that don't exercise those phases.
func New(id string, rw io.ReadWriteCloser) *Session {
	return &Session{ID: id, rw: rw, Registry: &node.Registry{}}
}

// Run drives the full Listening→...→Complete lifecycle and blocks until the
// session ends (STOP received, all workers finish naturally, or an error).
func (s *Session) Run() error {
	cfg, err := s.awaitConfig()
	if err != nil {
		return err
	}

	if !cfg.SkipPreparation && s.Prepare != nil {
		if err := s.Prepare(cfg.Workload, cfg.Assignments); err != nil {
			s.sendError(err)
			return fmt.Errorf("nodesvc: preparation failed: %w", err)
		}
	}

	if err := s.sendReady(cfg.WorkerCount); err != nil {
		return err
	}

	startAt, err := s.awaitStart()
	if err != nil {
		return err
	}
	awaitClock(startAt)

	workers, err := s.buildAndRegister(cfg)
	if err != nil {
		s.sendError(err)
		return fmt.Errorf("nodesvc: building workers: %w", err)
	}

	return s.runWorkersAndReport(workers)
}

func (s *Session) awaitConfig() (protocol.ConfigMsg, error) {
	msg, err := protocol.Read(s.rw)
	if err != nil {
		return protocol.ConfigMsg{}, fmt.Errorf("nodesvc: read CONFIG: %w", err)
	}
	if msg.Type != protocol.MsgConfig {
		return protocol.ConfigMsg{}, fmt.Errorf("nodesvc: expected CONFIG, got %s", msg.Type)
	}
	var cfg protocol.ConfigMsg
	if err := msg.Decode(&cfg); err != nil {
		return protocol.ConfigMsg{}, fmt.Errorf("nodesvc: decode CONFIG: %w", err)
	}
	if cfg.ProtocolVersion != protocol.Version {
		err := fmt.Errorf("nodesvc: protocol version %d != %d", cfg.ProtocolVersion, protocol.Version)
		s.sendError(err)
		return protocol.ConfigMsg{}, err
	}
	return cfg, nil
}

func (s *Session) sendReady(workerCount int) error {
	ready := protocol.ReadyMsg{
		ProtocolVersion: protocol.Version,
		NodeID:          s.ID,
		WorkerCount:     workerCount,
		NodeTimeUnixNs:  time.Now().UnixNano(),
	}
	if err := protocol.Write(s.rw, protocol.MsgReady, &ready); err != nil {
		return fmt.Errorf("nodesvc: send READY: %w", err)
	}
	return nil
}

func (s *Session) awaitStart() (int64, error) {
	msg, err := protocol.Read(s.rw)
	if err != nil {
		return 0, fmt.Errorf("nodesvc: read START: %w", err)
	}
	if msg.Type != protocol.MsgStart {
		return 0, fmt.Errorf("nodesvc: expected START, got %s", msg.Type)
	}
	var start protocol.StartMsg
	if err := msg.Decode(&start); err != nil {
		return 0, fmt.Errorf("nodesvc: decode START: %w", err)
	}
	return start.StartUnixNs, nil
}

// awaitClock busy-waits (short sleeps, then a tight spin for the final
// stretch) until the local clock reaches startAtNs, per spec.md §4.5's
// "releases all workers atomically."
func awaitClock(startAtNs int64) {
	deadline := time.Unix(0, startAtNs)
	giveUpAt := time.Now().Add(maxStartWait)
	for {
		now := time.Now()
		if now.After(giveUpAt) {
			return
		}
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return
		}
		if remaining > 2*time.Millisecond {
			time.Sleep(remaining - time.Millisecond)
			continue
		}
		// final stretch: spin without yielding the scheduler for long
		for time.Now().Before(deadline) {
		}
		return
	}
}

func (s *Session) buildAndRegister(cfg protocol.ConfigMsg) ([]*worker.Worker, error) {
	if s.Build == nil {
		return nil, nil
	}
	workers, err := s.Build(cfg)
	if err != nil {
		return nil, err
	}
	for i, w := range workers {
		s.Registry.Register(i, w.Snapshot())
	}
	return workers, nil
}

// runWorkersAndReport runs every worker to completion (or until STOP/dead-
// man arrives), emits heartbeats throughout, and sends RESULTS at the end.
func (s *Session) runWorkersAndReport(workers []*worker.Worker) error {
	stopCh := make(chan struct{})
	acks := make(chan struct{}, 1)
	readerErr := make(chan error, 1)

	go s.readLoop(stopCh, acks, readerErr)

	var wg sync.WaitGroup
	var workerErrsMu sync.Mutex
	var workerErrs []error
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(); err != nil {
				workerErrsMu.Lock()
				workerErrs = append(workerErrs, err)
				workerErrsMu.Unlock()
			}
		}(w)
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	n := node.NewNode(s.ID, s.Registry, s.Sampler)
	heartbeatStop := make(chan struct{})
	heartbeatDone := make(chan error, 1)
	go func() {
		heartbeatDone <- n.Run(heartbeatStop, acks, func(msg protocol.HeartbeatMsg) error {
			return protocol.Write(s.rw, protocol.MsgHeartbeat, &msg)
		}, func() {
			// dead-man: stop every worker so their in-flight ops drain.
			for _, w := range workers {
				w.Stop()
			}
		})
	}()

	select {
	case <-workersDone:
	case <-stopCh:
		for _, w := range workers {
			w.Stop()
		}
		<-workersDone
	}
	close(heartbeatStop)
	<-heartbeatDone

	total, perWorker := s.Registry.Aggregate()
	result := protocol.ResultsMsg{
		NodeID:    s.ID,
		Final:     stats.NodeSnapshot{WorkerSnapshot: total},
		PerWorker: perWorker,
	}
	if err := protocol.Write(s.rw, protocol.MsgResults, &result); err != nil {
		return fmt.Errorf("nodesvc: send RESULTS: %w", err)
	}

	workerErrsMu.Lock()
	defer workerErrsMu.Unlock()
	if len(workerErrs) > 0 {
		return fmt.Errorf("nodesvc: %d worker(s) exited with a backend error, first: %w", len(workerErrs), workerErrs[0])
	}
	return nil
}

// readLoop continuously reads Coordinator messages and dispatches them:
// HEARTBEAT_ACK resets the dead-man timer, STOP ends the session.
func (s *Session) readLoop(stopCh chan struct{}, acks chan<- struct{}, errCh chan<- error) {
	for {
		msg, err := protocol.Read(s.rw)
		if err != nil {
			errCh <- err
			return
		}
		switch msg.Type {
		case protocol.MsgHeartbeatAck:
			select {
			case acks <- struct{}{}:
			default:
			}
		case protocol.MsgStop:
			close(stopCh)
			return
		default:
			// any other message on this direction is out of protocol; ignore
		}
	}
}

func (s *Session) sendError(cause error) {
	_ = protocol.Write(s.rw, protocol.MsgError, &protocol.ErrorMsg{Reason: cause.Error()})
}
