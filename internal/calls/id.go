package calls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CallID derives a stable identifier for a call from its metadata. The same
// (system, start_time, talkgroup, sources) always hashes to the same id, so
// re-submitting a call is an upsert everywhere downstream.
//
// The hash input is built field by field in a fixed order rather than by
// marshaling the struct, so the id does not depend on JSON key ordering.
func CallID(m *Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%d|", m.ShortName, m.StartTime, m.Talkgroup)
	for i, s := range m.SrcList {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", s.Src)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
