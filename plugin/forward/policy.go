package forward

import (
	"math/rand"
)

// Policy is the upstream selection strategy set by the Corefile `policy`
// directive argument.
type Policy int

const (
	Sequential Policy = iota
	RoundRobin
	Random
)

func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "sequential":
		return Sequential, true
	case "round_robin":
		return RoundRobin, true
	case "random":
		return Random, true
	default:
		return 0, false
	}
}

// selectEndpoint picks one endpoint from the alive subset (or, if empty,
// the full endpoint set as a best-effort last resort), skipping any
// already-tried endpoints.
func (g *Group) selectEndpoint(tried map[*Endpoint]bool) *Endpoint {
	pool := g.aliveEndpoints()
	if len(pool) == 0 {
		pool = g.endpoints
	}

	var candidates []*Endpoint
	for _, e := range pool {
		if !tried[e] {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	switch g.policy {
	case Sequential:
		return candidates[0]
	case RoundRobin:
		n := g.rrCursor.Add(1) - 1
		return candidates[int(n)%len(candidates)]
	case Random:
		return candidates[rand.Intn(len(candidates))]
	default:
		return candidates[0]
	}
}

func (g *Group) aliveEndpoints() []*Endpoint {
	var alive []*Endpoint
	for _, e := range g.endpoints {
		if e.Alive() {
			alive = append(alive, e)
		}
	}
	return alive
}
