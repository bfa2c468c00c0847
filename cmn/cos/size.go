package cos

import (
	"fmt"
	"math/rand"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// RoundUpN rounds size up to the next multiple of n (n must be a power of two).
// Used by the pool to round regions up to the page size and by the link
// allocator to lay out buffers on 64-byte boundaries (§4.3).
func RoundUpN(size, n int64) int64 {
	return (size + n - 1) &^ (n - 1)
}

// DivCeil is integer ceil-division.
func DivCeil(a, b int64) int64 {
	return (a + b - 1) / b
}

// Plural returns "s" unless n == 1, for human-readable error messages.
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// ToSizeIEC formats a byte count using IEC binary units (KiB/MiB/GiB).
func ToSizeIEC(b int64, digits int) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.*f%ciB", digits, float64(b)/float64(div), "KMGTPE"[exp])
}

// NowRand returns a process-local PRNG source for code that needs jitter or
// synthetic content. The test source computes its waveform directly and
// does not use it.
func NowRand() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}
