package pglock

import (
	"hash/fnv"
	"unsafe"
)

// Keyify returns an int64 serialized into a []byte.
func keyify(key string) []byte {
	h := fnv.New64a()
	// Unsafe, but the Write call never modifies the passed slice.
	h.Write(unsafe.Slice(unsafe.StringData(key), len(key)))
	b := make([]byte, 0, 8)
	return h.Sum(b)
}
