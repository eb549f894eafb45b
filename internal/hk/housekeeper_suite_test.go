// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/vistledev/vistle-manager/internal/hk"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.DefaultHK.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Housekeeper", func() {
	It("should run a registered job and report it", func() {
		done := make(chan struct{})
		hk.DefaultHK.Reg("test-job", func() time.Duration {
			close(done)
			return 0
		}, time.Millisecond)

		Eventually(done, 2*time.Second).Should(BeClosed())
	})
})
