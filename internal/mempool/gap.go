package mempool

import (
	"math/rand"

	"github.com/apollo-sequencer/sequencer/internal/apollo"
)

// gapTracker maintains AccountsWithGap (§3, §8 invariant 4): the set
// of addresses whose lowest resident pool nonce exceeds their known
// account nonce. Membership is recomputed on every pool mutation that
// touches the address rather than derived lazily, since it gates both
// admission (refuse if it would create an un-closeable gap) and
// eviction (sample a gap-having address).
type gapTracker struct {
	set map[apollo.ContractAddress]struct{}
}

func newGapTracker() *gapTracker {
	return &gapTracker{set: map[apollo.ContractAddress]struct{}{}}
}

func (g *gapTracker) has(addr apollo.ContractAddress) bool {
	_, ok := g.set[addr]
	return ok
}

// refresh recomputes addr's gap membership given its current lowest
// pool nonce (ok=false if the address has no resident entries, which
// always clears membership) and its known account nonce.
func (g *gapTracker) refresh(addr apollo.ContractAddress, lowest apollo.Nonce, ok bool, accountNonce apollo.Nonce) {
	if !ok || !nonceLess(accountNonce, lowest) {
		delete(g.set, addr)
		return
	}
	g.set[addr] = struct{}{}
}

// sampleRandom returns a uniformly random gap-having address, used by
// eviction ("samples a random gap-having address").
func (g *gapTracker) sampleRandom(rng *rand.Rand) (apollo.ContractAddress, bool) {
	if len(g.set) == 0 {
		return apollo.ContractAddress{}, false
	}
	addrs := make([]apollo.ContractAddress, 0, len(g.set))
	for addr := range g.set {
		addrs = append(addrs, addr)
	}
	return addrs[rng.Intn(len(addrs))], true
}

// all returns every currently gap-having address, for metrics/tests.
func (g *gapTracker) all() []apollo.ContractAddress {
	out := make([]apollo.ContractAddress, 0, len(g.set))
	for addr := range g.set {
		out = append(out, addr)
	}
	return out
}
