// Package sys provides methods to read system information.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"os"
	"runtime"

	"github.com/vistledev/vistle-manager/internal/nlog"
)

const maxProcsEnvVar = "GOMAXPROCS"

var ncpu = runtime.NumCPU()

func NumCPU() int { return ncpu }

// SetMaxProcs sets GOMAXPROCS = NumCPU unless already overridden via the Go
// environment.
func SetMaxProcs() {
	if val, exists := os.LookupEnv(maxProcsEnvVar); exists {
		nlog.Warningf("GOMAXPROCS is set via Go environment %q: %q", maxProcsEnvVar, val)
		return
	}
	maxprocs := runtime.GOMAXPROCS(0)
	if maxprocs > ncpu {
		nlog.Warningf("reducing GOMAXPROCS (%d) to %d (num CPUs)", maxprocs, ncpu)
		runtime.GOMAXPROCS(ncpu)
	}
}

// BlockTaskConcurrency implements spec §4.4's "concurrency defaults to
// hardware_concurrency/2" when the config leaves it unset.
func BlockTaskConcurrency() int {
	if c := ncpu / 2; c > 0 {
		return c
	}
	return 1
}
