package vm

import (
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru"
)

// bytecodeCache memoizes the decode of a raw Bytecode payload (the bytes
// carried by a Value of Kind Bytecode) keyed by a hash of those bytes, so
// that repeatedly invoking the same anonymous-function template (§4.3's
// Bytecode-as-Function dispatch) does not redundantly decode it each time.
// Grounded on the nspcc-dev/neo-go dependency manifest
// (_examples/other_examples/manifests/nspcc-dev-neo-go/go.mod), which pulls
// in github.com/hashicorp/golang-lru for exactly this "decode once, reuse
// many" role over its own VM scripts; applied here to decoded Assembly.
type bytecodeCache struct {
	cache *lru.Cache
}

const defaultBytecodeCacheSize = 256

func newBytecodeCache() *bytecodeCache {
	c, err := lru.New(defaultBytecodeCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which
		// defaultBytecodeCacheSize never is.
		panic(err)
	}
	return &bytecodeCache{cache: c}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (c *bytecodeCache) get(raw []byte) (Assembly, bool) {
	v, ok := c.cache.Get(hashBytes(raw))
	if !ok {
		return nil, false
	}
	return v.(Assembly), true
}

func (c *bytecodeCache) put(raw []byte, asm Assembly) {
	c.cache.Add(hashBytes(raw), asm)
}
