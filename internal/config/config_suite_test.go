package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/vistledev/vistle-manager/internal/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Config", func() {
	It("defaults to no archive compression and a 20% LazyGang threshold", func() {
		c := config.Default()
		Expect(c.Session.ArchiveCompression).To(Equal(config.CompressionNone))
		Expect(c.LazyGangThreshold).To(Equal(0.2))
	})

	It("round-trips session parameters through SetSession/GetSession", func() {
		c := config.Default()
		c.SetSession(config.Session{ArchiveCompression: config.CompressionFast, ArchiveCompressionSpeed: 3})
		got := c.GetSession()
		Expect(got.ArchiveCompression).To(Equal(config.CompressionFast))
		Expect(got.ArchiveCompressionSpeed).To(Equal(3))
	})

	It("loads overrides from a JSON file on top of the defaults", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.json")
		Expect(os.WriteFile(path, []byte(`{"rank":2,"session":{"archive_compression":"fast"}}`), 0o644)).To(Succeed())

		c, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Rank).To(Equal(2))
		Expect(c.Session.ArchiveCompression).To(Equal(config.CompressionFast))
		Expect(c.Transport.Burst).To(Equal(128)) // unset fields keep their default
	})
})
