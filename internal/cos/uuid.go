package cos

import (
	"crypto/rand"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initSID() {
	var seed uint64
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		seed = xxhash.Checksum64(b[:])
	}
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenShortID returns a teacher-style short, URL-safe random ID used to seed UUIDs.
func GenShortID() string {
	sidOnce.Do(initSID)
	return sid.MustGenerate()
}

// GenUUID16 fills a 16-byte array, matching the fixed-size Message.UUID field:
// a shortid string hashed into 8 bytes and combined with 8 bytes of crypto rand
// so that two UUIDs generated in the same process tick never collide.
func GenUUID16() (out [16]byte) {
	s := GenShortID()
	h := xxhash.Checksum64S([]byte(s), 0)
	for i := range 8 {
		out[i] = byte(h >> (8 * uint(i)))
	}
	_, _ = rand.Read(out[8:])
	return
}
