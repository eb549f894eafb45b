// Package config holds the manager's process-wide configuration: the
// session-parameter area of the StateTracker (spec §6) plus local sizing
// knobs for the bus and scheduler, threaded into every subsystem at Init
// time the way the teacher threads *cmn.Config into transport.Init.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"encoding/json"
	"os"
	"sync"
)

// CompressionMode is the generic "archive_compression" codec selector; the
// field-level scientific compressors (zfp/SZ/BigWhoop) are a separate,
// external concern (spec §4.6) selected via FieldCompression below.
type CompressionMode string

const (
	CompressionNone CompressionMode = "none"
	CompressionFast CompressionMode = "fast" // internal/compress: lz4
)

type FieldCompression struct {
	Mode          string  `json:"mode"`
	ZfpMode       string  `json:"zfpMode,omitempty"`
	ZfpRate       float64 `json:"zfpRate,omitempty"`
	ZfpPrecision  int     `json:"zfpPrecision,omitempty"`
	ZfpAccuracy   float64 `json:"zfpAccuracy,omitempty"`
	SzAlgo        string  `json:"szAlgo,omitempty"`
	SzError       float64 `json:"szError,omitempty"`
	SzAbsError    float64 `json:"szAbsError,omitempty"`
	SzRelError    float64 `json:"szRelError,omitempty"`
	SzPsnrError   float64 `json:"szPsnrError,omitempty"`
	SzL2Error     float64 `json:"szL2Error,omitempty"`
	BigWhoopNPar  int     `json:"bigWhoopNPar,omitempty"`
	BigWhoopRate  float64 `json:"bigWhoopRate,omitempty"`
}

// Session is the set of recognized SET_PARAMETER(Vistle) options (spec §6).
// cluster.Manager.handleSetParameter logs a SET_PARAMETER whose target is
// Vistle but does not write it into this struct; only SetSession does.
type Session struct {
	ArchiveCompression      CompressionMode  `json:"archive_compression"`
	ArchiveCompressionSpeed int              `json:"archive_compression_speed"`
	Field                   FieldCompression `json:"field"`
}

type Transport struct {
	Burst         int `json:"burst"`          // per-stream send queue depth
	IdleTeardown  int `json:"idle_teardown_s"`
	MaxHeaderSize int `json:"max_header_size"`
}

type Config struct {
	mu sync.RWMutex

	Size      int       `json:"size"` // MPI world size (ranks in this manager)
	Rank      int       `json:"rank"`
	Session   Session   `json:"session"`
	Transport Transport `json:"transport"`

	// LazyGangThreshold is the fraction of ranks that must have pending
	// objects before a LazyGang module's compute is broadcast (spec §4.3: 20%).
	// cluster.Manager does not read this field; it uses a fixed 0.2.
	LazyGangThreshold float64 `json:"lazy_gang_threshold"`

	// BlockTaskConcurrency caps simultaneous BlockTasks per module; 0 means
	// hardware_concurrency/2 (spec §4.4).
	BlockTaskConcurrency int `json:"block_task_concurrency"`
}

func Default() *Config {
	return &Config{
		Size: 1,
		Session: Session{
			ArchiveCompression:      CompressionNone,
			ArchiveCompressionSpeed: 1,
		},
		Transport: Transport{
			Burst:         128,
			IdleTeardown:  4,
			MaxHeaderSize: 4096,
		},
		LazyGangThreshold: 0.2,
	}
}

func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetSession atomically replaces the session-parameter block; this is the
// effect of a SET_PARAMETER(Vistle) control message.
func (c *Config) SetSession(s Session) {
	c.mu.Lock()
	c.Session = s
	c.mu.Unlock()
}

func (c *Config) GetSession() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Session
}
