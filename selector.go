package llmrelay

import (
	"encoding/hex"
	"math"
	"math/rand"
	"sort"

	"github.com/minio/highwayhash"
)

// RoutingKey is one anchor contributing votes in cache-affine selection.
// Content is a conversation prefix; Weight is the full length of the text
// the prefix was cut from, in Unicode code points.
type RoutingKey struct {
	Content string
	Weight  int
}

// SelectProviders orders the matched candidates by selection policy.
// With no routing keys the order is a weighted random shuffle; with keys
// it is the deterministic multi-anchor vote that maximizes KV-cache
// affinity for recurring conversation prefixes.
func SelectProviders(candidates []*Provider, keys []RoutingKey) []*Provider {
	if len(candidates) <= 1 {
		return candidates
	}
	if len(keys) == 0 {
		return weightedOrder(candidates)
	}
	return votedOrder(candidates, keys)
}

// weightedOrder implements the Efraimidis-Spirakis weighted shuffle: each
// candidate draws u in (0,1) and sorts descending by u^(1/priority). A
// non-positive priority maps to sort key 0, placing the candidate last.
func weightedOrder(candidates []*Provider) []*Provider {
	type keyed struct {
		key float64
		p   *Provider
	}
	keyedList := make([]keyed, len(candidates))
	for i, p := range candidates {
		k := 0.0
		if p.Priority > 0 {
			k = math.Pow(rand.Float64(), 1.0/float64(p.Priority)) //nolint:gosec
		}
		keyedList[i] = keyed{key: k, p: p}
	}
	sort.SliceStable(keyedList, func(a, b int) bool {
		return keyedList[a].key > keyedList[b].key
	})
	out := make([]*Provider, len(candidates))
	for i, k := range keyedList {
		out[i] = k.p
	}
	return out
}

// votingHashKey is the fixed 32-byte HighwayHash key. It must never change:
// the whole point of rendezvous selection is that the same anchor lands on
// the same provider across processes and restarts.
var votingHashKey, _ = hex.DecodeString("8f1a664dd3bc62897a10c24e85f0ab9cd214e6573f81b04c9ecf75a1dd90b438")

// votedOrder implements rendezvous hashing with multi-anchor weighted
// voting. Every anchor is auctioned independently: each candidate scores
// s = r^(1/priority) where r is the normalized hash of anchor||name, and
// the highest score wins the anchor's weight in points. Candidates are
// ranked by accumulated points. The result is a pure function of its
// inputs, and adding a candidate re-homes only ~1/N of the anchors.
func votedOrder(candidates []*Provider, keys []RoutingKey) []*Provider {
	points := make([]int, len(candidates))

	for _, key := range keys {
		winner := -1
		best := -1.0
		for i, p := range candidates {
			s := anchorScore(key.Content, p)
			// Equal scores resolve to the lexically smaller name so the
			// auction stays deterministic even with duplicate entries.
			if s > best || (s == best && winner >= 0 && p.Name < candidates[winner].Name) {
				best = s
				winner = i
			}
		}
		if winner >= 0 {
			points[winner] += key.Weight
		}
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if points[ia] != points[ib] {
			return points[ia] > points[ib]
		}
		return candidates[ia].Name < candidates[ib].Name
	})

	out := make([]*Provider, len(candidates))
	for i, idx := range order {
		out[i] = candidates[idx]
	}
	return out
}

// anchorScore computes one candidate's bid for one anchor. The 64-bit hash
// is normalized to r in (0,1]; strict positivity keeps r^(1/w) away from
// the degenerate zero score for positive weights.
func anchorScore(content string, p *Provider) float64 {
	if p.Priority <= 0 {
		return 0
	}
	h := highwayhash.Sum64([]byte(content+p.Name), votingHashKey)
	r := (float64(h) + 1) / (math.Pow(2, 64) + 1)
	return math.Pow(r, 1.0/float64(p.Priority))
}
