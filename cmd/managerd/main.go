// Package managerd is the Vistle cluster manager daemon: one process per
// manager, hosting `size` ranks over an in-process Bus and a single TCP
// connection to the controlling hub.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vistledev/vistle-manager/internal/bus"
	"github.com/vistledev/vistle-manager/internal/clusterstats"
	"github.com/vistledev/vistle-manager/internal/cluster"
	"github.com/vistledev/vistle-manager/internal/config"
	"github.com/vistledev/vistle-manager/internal/datamgr"
	"github.com/vistledev/vistle-manager/internal/hk"
	"github.com/vistledev/vistle-manager/internal/ident"
	"github.com/vistledev/vistle-manager/internal/modproc"
	"github.com/vistledev/vistle-manager/internal/msg"
	"github.com/vistledev/vistle-manager/internal/nlog"
	"github.com/vistledev/vistle-manager/internal/object"
	"github.com/vistledev/vistle-manager/internal/port"
	"github.com/vistledev/vistle-manager/internal/statetracker"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	configPath string
	hubAddr    string
	hubID      int
	size       int
	inProcess  bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to manager configuration file")
	flag.StringVar(&hubAddr, "hub", "", "hub TCP address (host:port), rank 0 only")
	flag.IntVar(&hubID, "hub-id", int(ident.HubBase), "this manager's hub ID")
	flag.IntVar(&size, "size", 1, "number of ranks hosted by this manager process")
	flag.BoolVar(&inProcess, "in-process", true, "run modules in-process as threads rather than separate OS processes")
}

func main() {
	flag.Parse()
	installSignalHandler()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			nlog.Errorf("managerd: failed to load config %q: %v", configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Size = size

	world := bus.NewWorld(size)
	stats := clusterstats.New(prometheus.DefaultRegisterer)

	state, err := statetracker.New()
	if err != nil {
		nlog.Errorf("managerd: statetracker init failed: %v", err)
		os.Exit(1)
	}
	defer state.Close()

	managers := make([]*cluster.Manager, 0, size)

	var procs cluster.ProcessSupervisor
	if !inProcess {
		// Crashes are reported to rank 0's manager: SPAWN/MODULE_EXIT are
		// only ever handled on the hub-owning rank (cluster.handleSpawn),
		// so that's the one manager that needs to see the synthesized exit.
		sup := modproc.NewSupervisor(func(id ident.ID, crashed bool) {
			if len(managers) == 0 {
				return
			}
			managers[0].Handle(&msg.Message{
				Type: msg.ModuleExit, DestID: id,
				Body: &msg.BodyModuleExit{ModuleID: id, Crashed: crashed},
			}, nil)
		})
		procs = sup
	}

	for r := 0; r < size; r++ {
		var hubConn net.Conn
		if r == 0 && hubAddr != "" {
			hubConn, err = net.Dial("tcp", hubAddr)
			if err != nil {
				nlog.Errorf("managerd: dial hub %s failed: %v", hubAddr, err)
				os.Exit(1)
			}
		}

		ports := port.NewManager()
		objects := object.NewStore()
		payloads := msg.NewPayloadArena()

		var mgr *cluster.Manager
		b := bus.New(world, ident.Rank(r), hubConn, managerHandler{&mgr})

		dataMgr := datamgr.New(b, objects, cfg, stats, ident.ID(hubID))
		mgr = cluster.New(b, state, ports, objects, payloads, stats, dataMgr, procs, ident.ID(hubID))

		// Fold the manager's incomingMessages deque into the Bus's own
		// dispatch loop (spec §5: single-threaded by construction) rather
		// than draining it from a second goroutine.
		b.SetWaker(mgr.NotifyChan(), mgr.DrainIncoming)
		go b.Run()
		managers = append(managers, mgr)
	}

	hk.DefaultHK.Reg("nlog-flush", func() time.Duration {
		nlog.Flush(false)
		return time.Minute
	}, time.Minute)
	go hk.DefaultHK.Run()
	hk.DefaultHK.WaitStarted()

	nlog.Infof("managerd: started, size=%d hub-id=%d in-process=%v", size, hubID, inProcess)
	select {} // ranks run on their own goroutines until the process is signaled
}

// managerHandler defers to the *cluster.Manager created after the Bus that
// needs it, since Bus.New and cluster.New are mutually referential (Bus
// needs a Handler, cluster.Manager needs the Bus as its Sender).
type managerHandler struct {
	mgr **cluster.Manager
}

func (h managerHandler) Handle(m *msg.Message, payload []byte) {
	(*h.mgr).Handle(m, payload)
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Fprintln(os.Stderr, "managerd: shutting down")
		os.Exit(0)
	}()
}
