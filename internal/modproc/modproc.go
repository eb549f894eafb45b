// Package modproc implements the "module runs as a separate OS process"
// build choice (spec §4.2 SPAWN: "load the module's code either in-process
// as a thread or as a separate process -- this is a build choice, not a
// runtime choice within a deployment"). It owns process lifecycle: launch,
// graceful termination via SIGTERM, forced termination via SIGKILL, and
// crash detection that synthesizes MODULE_EXIT(crashed=true).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package modproc

import (
	"context"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/nlog"
)

// ExitHandler is notified once, exactly, when a module process terminates;
// crashed is true when the process exited with an error (non-zero status
// or a signal) without a QUIT/KILL having been requested for it.
type ExitHandler func(id ident.ID, crashed bool)

// Process tracks one spawned module process.
type Process struct {
	id   ident.ID
	cmd  *exec.Cmd
	mu   sync.Mutex
	quit bool // true once QUIT/KILL was requested locally
}

// Supervisor launches and tracks module processes, mirroring the
// RunningMap's process-lifetime half of spec §4.2 SPAWN/MODULE_EXIT.
type Supervisor struct {
	onExit ExitHandler

	mu   sync.Mutex
	proc map[ident.ID]*Process
}

func NewSupervisor(onExit ExitHandler) *Supervisor {
	return &Supervisor{onExit: onExit, proc: make(map[ident.ID]*Process)}
}

// Spawn launches path as a new process group leader (so Kill can reach any
// children the module forks) and starts a goroutine waiting on its exit.
func (s *Supervisor) Spawn(ctx context.Context, id ident.ID, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return err
	}

	p := &Process{id: id, cmd: cmd}
	s.mu.Lock()
	s.proc[id] = p
	s.mu.Unlock()

	go s.wait(p)
	return nil
}

func (s *Supervisor) wait(p *Process) {
	err := p.cmd.Wait()

	s.mu.Lock()
	delete(s.proc, p.id)
	s.mu.Unlock()

	p.mu.Lock()
	requested := p.quit
	p.mu.Unlock()

	crashed := !requested && err != nil
	if s.onExit != nil {
		s.onExit(p.id, crashed)
	}
}

// Terminate sends SIGTERM to the module's process group (QUIT path, spec
// §4.2): modules get a chance to flush state before exiting.
func (s *Supervisor) Terminate(id ident.ID) {
	s.signal(id, unix.SIGTERM)
}

// Kill sends SIGKILL to the module's process group (the KILL control
// message, spec §4.2's message-type table).
func (s *Supervisor) Kill(id ident.ID) {
	s.signal(id, unix.SIGKILL)
}

func (s *Supervisor) signal(id ident.ID, sig syscall.Signal) {
	s.mu.Lock()
	p, ok := s.proc[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.quit = true
	p.mu.Unlock()

	pgid, err := unix.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		nlog.Warningf("modproc: getpgid(%d) failed: %v", p.cmd.Process.Pid, err)
		return
	}
	if err := unix.Kill(-pgid, sig); err != nil {
		nlog.Warningf("modproc: signal %v to module %d failed: %v", sig, id, err)
	}
}

// Running reports whether id currently has a tracked process.
func (s *Supervisor) Running(id ident.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.proc[id]
	return ok
}
