package wire

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// Fingerprint is the cache key: lowercased name, type, class, and the
// EDNS0 DO bit. Transport, message ID, and source address are
// deliberately excluded so that identical questions from different
// clients or transports share one cache entry.
type Fingerprint struct {
	Name  string
	Qtype uint16
	Qclass uint16
	DO    bool
}

// NewFingerprint derives a Fingerprint from an inbound query. query must
// have exactly one question (Decode already enforces this).
func NewFingerprint(query *dns.Msg) Fingerprint {
	q := query.Question[0]
	fp := Fingerprint{
		Name:   strings.ToLower(q.Name),
		Qtype:  q.Qtype,
		Qclass: q.Qclass,
	}
	if opt := query.IsEdns0(); opt != nil {
		fp.DO = opt.Do()
	}
	return fp
}

// Key renders the fingerprint as the string cache backends key off of.
// Ristretto (and most concurrent-map-style caches) requires a
// string/[]byte/int/uint64 key; a bare struct isn't hashable by its
// KeyToHash, so every cache lookup needs this instead of the Fingerprint
// value itself.
func (f Fingerprint) Key() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatUint(uint64(f.Qtype), 10))
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatUint(uint64(f.Qclass), 10))
	b.WriteByte('\x00')
	if f.DO {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	return b.String()
}
