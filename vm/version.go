package vm

// Bytecode container format versioning, grounded on
// _examples/original_source/jodin-asm/src/asm_version.rs's
// Version::to_magic_number(). The formula is pure integer arithmetic over
// the ASCII bytes of a fixed version string, wrapping on 64-bit overflow
// exactly as Rust's release-mode wrapping_mul/wrapping_add do.

const versionString = "jodin_asm_version_1.0"

// MagicNumber returns the container magic number described in spec §6:
// sum = Σ byte_i^(31-i) * (i+1) over the ASCII bytes of versionString,
// computed with wrapping uint64 arithmetic.
func MagicNumber() uint64 {
	var sum uint64
	for i, b := range []byte(versionString) {
		sum += wrappingPow(uint64(b), uint64(31-i)) * uint64(i+1)
	}
	return sum
}

// wrappingPow computes base^exp with uint64 wraparound at each
// multiplication, matching Rust's wrapping_pow semantics used by
// to_magic_number().
func wrappingPow(base, exp uint64) uint64 {
	result := uint64(1)
	for ; exp > 0; exp-- {
		result *= base
	}
	return result
}

// ContainerHeader is the on-disk prefix of a bytecode container (§6):
// magic number followed by a length-prefixed payload. Encoding/decoding
// uses encoding/gob (see store.go/asmtext.go), the Go-idiomatic analog of
// the original's bincode framing — no ecosystem binary-framing library
// appears anywhere in the retrieval pack, so gob is the justified stdlib
// choice (see DESIGN.md).
type ContainerHeader struct {
	Magic uint64
}

// VerifyMagic reports whether a decoded header matches the version this
// build understands.
func (h ContainerHeader) VerifyMagic() bool {
	return h.Magic == MagicNumber()
}
