package advisor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/shellpilot/shellpilot/internal/contextwin"
)

// Fingerprint computes a stable identity for a context window: a hash over
// its ordered (command, output) pairs. Two windows with identical pairs in
// identical order produce the same fingerprint; any differing record changes
// it. Fields are length-prefixed so boundaries cannot be confused.
func Fingerprint(win contextwin.Window) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, rec := range win.Records {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(rec.Command)))
		h.Write(lenBuf[:])
		h.Write([]byte(rec.Command))
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(rec.Output)))
		h.Write(lenBuf[:])
		h.Write([]byte(rec.Output))
	}
	return hex.EncodeToString(h.Sum(nil))
}
