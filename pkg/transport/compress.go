package transport

import (
	"bytes"

	"github.com/klauspost/compress/zlib"
)

// defaultCompressThreshold is the payload size above which compression is
// attempted (spec §4.8 "payloads larger than a threshold (default 1024
// octets)").
const defaultCompressThreshold = 1024

// compressFrame zlib-compresses payload at the given level and prefixes it
// with a literal 'z' byte, per spec §4.8. If compression fails or does not
// shrink the payload, it returns the original payload and shrank=false so
// the caller falls back to sending it uncompressed.
func compressFrame(payload []byte, level int) (out []byte, shrank bool) {
	var buf bytes.Buffer
	buf.WriteByte('z')

	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return payload, false
	}
	if _, err := w.Write(payload); err != nil {
		return payload, false
	}
	if err := w.Close(); err != nil {
		return payload, false
	}

	if buf.Len() >= len(payload) {
		return payload, false
	}
	return buf.Bytes(), true
}
