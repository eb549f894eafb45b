// Package nlog is the manager's logger: buffering, timestamping, and
// periodic flushing, adapted from aistore's cmn/nlog for a single-process
// (no rotation, no multi-file) daemon.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevName = [...]string{"I", "W", "E"}

type ring struct {
	mu    sync.Mutex
	lines []string
	cap   int
	out   *os.File
}

func newRing(out *os.File) *ring { return &ring{lines: make([]string, 0, 256), cap: 4096, out: out} }

func (r *ring) push(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
	r.mu.Unlock()
}

func (r *ring) flush() {
	r.mu.Lock()
	lines := r.lines
	r.lines = r.lines[:0]
	r.mu.Unlock()
	if len(lines) == 0 {
		return
	}
	fmt.Fprint(r.out, strings.Join(lines, ""))
}

var (
	rings        [3]*ring
	toStderr     bool
	alsoToStderr bool
	title        string
)

func init() {
	rings[sevInfo] = newRing(os.Stdout)
	rings[sevWarn] = newRing(os.Stderr)
	rings[sevErr] = newRing(os.Stderr)
}

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of buffered files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as buffered files")
}

func SetTitle(s string) { title = s }

func log(sev severity, depth int, format string, args ...any) {
	_ = depth
	now := time.Now().Format("15:04:05.000000")
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
	}
	prefix := sevName[sev] + " " + now + " "
	if title != "" {
		prefix += "[" + title + "] "
	}
	line := prefix + msg
	if toStderr || alsoToStderr || sev != sevInfo {
		fmt.Fprint(os.Stderr, line)
	}
	if !toStderr {
		rings[sev].push(line)
	}
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// Flush writes buffered lines out; exit requests a final flush before shutdown.
func Flush(exit ...bool) {
	for _, r := range rings {
		r.flush()
	}
	_ = exit
}
