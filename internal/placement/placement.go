// Package placement implements the chunk replica placement policy
// (C4): who gets a new replica on upload, and who gets one during
// repair. It is a pure function of its inputs — a live-server
// snapshot and a replica-count snapshot — so it takes no locks of its
// own; callers are responsible for handing it a consistent view.
package placement

import "sort"

// SelectTargets ranks the live servers (minus exclude) ascending by
// current replica count, breaking ties by server id, and returns the
// first k. If fewer than k candidates remain, it returns what is
// available; the caller decides whether to proceed under-replicated
// (spec §4.4).
func SelectTargets(live []string, replicaCounts map[string]int, k int, exclude map[string]struct{}) []string {
	if k <= 0 {
		return nil
	}

	candidates := make([]string, 0, len(live))
	for _, server := range live {
		if _, excluded := exclude[server]; excluded {
			continue
		}
		candidates = append(candidates, server)
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := replicaCounts[candidates[i]], replicaCounts[candidates[j]]
		if ci != cj {
			return ci < cj
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// ExcludeSet builds a lookup set from a slice of server ids, the shape
// SelectTargets wants for its exclude argument.
func ExcludeSet(servers ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		set[s] = struct{}{}
	}
	return set
}
