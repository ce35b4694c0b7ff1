// Package wire implements the RFC 1035 + EDNS0 (RFC 6891) message codec:
// parsing inbound queries, serializing outbound responses with UDP
// truncation, and synthesizing SERVFAIL/FORMERR fallbacks.
package wire

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// ErrMalformed is returned by Decode for any message this gateway refuses
// to forward: missing question section, more than one question, or a
// packet miekg/dns itself cannot unpack.
var ErrMalformed = errors.New("wire: malformed message")

// DefaultUDPSize is the advertised UDP payload size assumed for clients
// that send no EDNS0 OPT record (RFC 1035 §2.3.4).
const DefaultUDPSize = 512

// MaxUDPSize is the largest EDNS0 UDP payload size honored from a client's
// own OPT record (RFC 6891 §6.2.3 recommends capping absurd values).
const MaxUDPSize = 4096

// Decode parses a raw DNS message. It rejects anything that isn't exactly
// one question (QDCOUNT != 1). Unknown RR types on answer/authority/
// additional sections pass through
// untouched; miekg/dns already treats unknown types as opaque RFC3597
// records, so no special-casing is needed here.
func Decode(b []byte) (*dns.Msg, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(m.Question) != 1 {
		return nil, fmt.Errorf("%w: qdcount=%d", ErrMalformed, len(m.Question))
	}
	return m, nil
}

// MaxPayloadSize returns the max_size a UDP response to req may occupy:
// the EDNS0 advertised size if req carries an OPT record, else
// DefaultUDPSize.
func MaxPayloadSize(req *dns.Msg) int {
	if opt := req.IsEdns0(); opt != nil {
		if sz := int(opt.UDPSize()); sz > 0 {
			if sz > MaxUDPSize {
				return MaxUDPSize
			}
			return sz
		}
	}
	return DefaultUDPSize
}

// EncodeUDP serializes resp for a UDP reply bounded by maxSize. If the full
// message would exceed maxSize, a header-only response is emitted instead
// with TC=1, preserving the question section and RCODE.
func EncodeUDP(resp *dns.Msg, maxSize int) (b []byte, truncated bool, err error) {
	b, err = resp.Pack()
	if err != nil {
		return nil, false, fmt.Errorf("wire: pack response: %w", err)
	}
	if len(b) <= maxSize {
		return b, false, nil
	}

	tc := new(dns.Msg)
	tc.SetRcode(resp, resp.Rcode)
	tc.Question = resp.Question
	tc.Truncated = true
	tc.Id = resp.Id
	b, err = tc.Pack()
	if err != nil {
		return nil, false, fmt.Errorf("wire: pack truncated response: %w", err)
	}
	return b, true, nil
}

// EncodeTCP serializes resp in full for a TCP reply. Callers are
// responsible for the 2-byte length prefix required by RFC 1035 §4.2.2;
// the TCP transport in core/dnsserver adds it (writeFramedTCP),
// mirroring how *dns.Server in miekg/dns frames its own TCP writes.
func EncodeTCP(resp *dns.Msg) ([]byte, error) {
	b, err := resp.Pack()
	if err != nil {
		return nil, fmt.Errorf("wire: pack response: %w", err)
	}
	return b, nil
}

// Servfail synthesizes a SERVFAIL response echoing the question section
// and ID of query: no client response is ever dropped silently.
func Servfail(query *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	if query != nil {
		m.SetRcode(query, dns.RcodeServerFailure)
	} else {
		m.Rcode = dns.RcodeServerFailure
	}
	return m
}

// FormerrForID synthesizes a FORMERR response for a query this gateway
// could not parse far enough to build a *dns.Msg from: malformed queries
// get a FORMERR reply with no upstream contact. Only id is carried over;
// the opcode and question section are not echoed. Callers whose raw bytes
// were too short to hold an id pass zero.
func FormerrForID(id uint16) *dns.Msg {
	m := new(dns.Msg)
	m.Id = id
	m.Response = true
	m.Rcode = dns.RcodeFormatError
	return m
}

// MinTTL returns the minimum TTL across every non-OPT resource record in
// resp, computed at the moment of receipt. A response with no RRs at all
// has a MinTTL of 0.
func MinTTL(resp *dns.Msg) uint32 {
	min, found := uint32(0), false
	visit := func(rrs []dns.RR) {
		for _, rr := range rrs {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			ttl := rr.Header().Ttl
			if !found || ttl < min {
				min = ttl
				found = true
			}
		}
	}
	visit(resp.Answer)
	visit(resp.Authority)
	visit(resp.Extra)
	if !found {
		return 0
	}
	return min
}

// RewriteTTL sets every non-OPT RR's TTL to ttl, used by the response
// cache to rewrite stored TTLs down to remaining lifetime before serving
// a hit.
func RewriteTTL(resp *dns.Msg, ttl uint32) {
	set := func(rrs []dns.RR) {
		for _, rr := range rrs {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			rr.Header().Ttl = ttl
		}
	}
	set(resp.Answer)
	set(resp.Authority)
	set(resp.Extra)
}
