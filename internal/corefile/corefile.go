// Package corefile implements the configuration model (C9): tokenizing a
// Corefile into server blocks with ordered, per-directive argument
// tables, and content-hashing the source for the reload controller.
//
// Tokenizing itself is delegated to the real CoreDNS Corefile lexer,
// github.com/coredns/caddy/caddyfile, treated per spec §1 as an external
// collaborator. This package only shapes the resulting token stream into
// the Configuration tree spec §3 describes and enforces the fail-closed
// unknown-directive rule of spec §4.9.
package corefile

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"sort"

	"github.com/coredns/caddy/caddyfile"
)

// KnownDirectives is the closed set of directives this gateway
// recognizes. Anything else fails parsing, per spec §4.9 ("Unknown
// directives fail parsing (fail-closed)").
var KnownDirectives = []string{
	"forward",
	"cache",
	"errors",
	"reload",
	"prometheus",
	"health",
	"log",
}

// Directive is one named directive's token stream within a server block,
// positioned so that ParseForward-style consumers can call Dispenser.Next
// to land on the directive name itself.
type Directive struct {
	Name      string
	Dispenser *caddyfile.Dispenser
}

// ServerBlock is one parsed `listen { ... }` block: its listen address and
// its directives in source declaration order. A directive named more than
// once (multiple `forward` stanzas cascading groups, for instance) appears
// as one Directive whose Dispenser yields every stanza in turn via
// repeated Next/NextBlock cycles — exactly how the teacher's own `forward`
// plugin setup loops over cascaded groups.
type ServerBlock struct {
	Listen     string
	Directives []Directive

	// ContentHash is a digest of this block's own directive tokens,
	// independent of the rest of the file, used by the reload controller
	// (C8) to tell an unchanged block from a modified one even when the
	// Corefile as a whole changed (spec §4.8 step 2).
	ContentHash [sha256.Size]byte
}

// Configuration is the immutable parsed tree: every server block plus the
// SHA-512 content hash of the file it came from.
type Configuration struct {
	Blocks []ServerBlock
	Hash   [sha512.Size]byte
}

// Hash computes the SHA-512 content hash the reload controller polls for
// changes (spec §4.8).
func Hash(data []byte) [sha512.Size]byte {
	return sha512.Sum512(data)
}

// Parse tokenizes raw Corefile bytes into a Configuration. filename is
// used only for error messages.
func Parse(filename string, data []byte) (*Configuration, error) {
	blocks, err := caddyfile.Parse(filename, bytes.NewReader(data), KnownDirectives)
	if err != nil {
		return nil, fmt.Errorf("corefile: %w", err)
	}

	cfg := &Configuration{Hash: Hash(data)}
	for _, sb := range blocks {
		if len(sb.Keys) == 0 {
			return nil, fmt.Errorf("corefile: server block with no listen address")
		}
		listen, err := normalizeListen(sb.Keys[0])
		if err != nil {
			return nil, fmt.Errorf("corefile: %w", err)
		}

		// sb.Tokens is a map, so it carries no order of its own; each
		// directive's own first token does, via the line it was lexed
		// from. Sorting by that recovers actual Corefile declaration
		// order (spec §3: "ordering in the chain is fixed per
		// declaration order"), with name as a tiebreaker for two
		// directives opening on the same line.
		names := make([]string, 0, len(sb.Tokens))
		for name := range sb.Tokens {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			li, lj := firstLine(sb.Tokens[names[i]]), firstLine(sb.Tokens[names[j]])
			if li != lj {
				return li < lj
			}
			return names[i] < names[j]
		})

		block := ServerBlock{Listen: listen}
		h := sha256.New()
		for _, name := range names {
			if !isKnown(name) {
				return nil, fmt.Errorf("corefile: unknown directive %q", name)
			}
			block.Directives = append(block.Directives, Directive{
				Name:      name,
				Dispenser: caddyfile.NewDispenserTokens(filename, sb.Tokens[name]),
			})
			fmt.Fprintf(h, "%s\x00", name)
			for _, tok := range sb.Tokens[name] {
				fmt.Fprintf(h, "%s\x00", tok.Text)
			}
		}
		copy(block.ContentHash[:], h.Sum(nil))
		cfg.Blocks = append(cfg.Blocks, block)
	}
	return cfg, nil
}

// firstLine returns the source line of a directive's first token, used to
// recover its original position among sb.Tokens' unordered map keys.
func firstLine(tokens []caddyfile.Token) int {
	if len(tokens) == 0 {
		return 0
	}
	return tokens[0].Line
}

func isKnown(name string) bool {
	for _, d := range KnownDirectives {
		if d == name {
			return true
		}
	}
	return false
}

// normalizeListen strips any "dns://" scheme prefix CoreDNS-style server
// block keys carry and defaults a bare port to all-interfaces.
func normalizeListen(key string) (string, error) {
	const prefix = "dns://"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		key = key[len(prefix):]
	}
	if key == "" {
		return "", fmt.Errorf("empty listen address")
	}
	if key[0] == ':' {
		return key, nil
	}
	return key, nil
}

// Get returns the Directive named name from the block, and whether it was
// present at all.
func (b ServerBlock) Get(name string) (Directive, bool) {
	for _, d := range b.Directives {
		if d.Name == name {
			return d, true
		}
	}
	return Directive{}, false
}
