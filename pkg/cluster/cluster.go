// Package cluster groups fingerprinted media into near-duplicate clusters.
// Two items are near-duplicates when the Hamming distance between their
// hashes is at or below the configured threshold; clusters are the
// transitive closure of that relation, so chains of pairwise-close items
// collapse into one group.
package cluster

import (
	"sort"
	"time"

	"dredge/pkg/fingerprint"
	"dredge/pkg/models"
)

// Member is one fingerprinted item offered for clustering.
type Member struct {
	ID           string
	Hash         fingerprint.Hash
	DiscoveredAt time.Time
}

// Build partitions the members into clusters. Every member lands in
// exactly one cluster; items with no close neighbor form singletons.
// The representative of a cluster is its earliest discovered member,
// with the lexically smaller ID breaking ties. Output is fully ordered:
// clusters sort by ID and member lists sort by ID, so the same member
// set produces the same result regardless of input order.
func Build(members []Member, threshold int) []models.Cluster {
	if len(members) == 0 {
		return nil
	}

	uf := newUnionFind(len(members))

	if threshold >= 63 {
		// Too few bits for banding; check all pairs.
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				if fingerprint.Distance(members[i].Hash, members[j].Hash) <= threshold {
					uf.union(i, j)
				}
			}
		}
	} else {
		joinBanded(members, threshold, uf)
	}

	return assemble(members, uf)
}

// joinBanded unions all pairs within the threshold without comparing
// every pair. The 64 hash bits are split into threshold+1 bands; two
// hashes within the threshold must agree exactly on at least one band,
// so only members sharing a band value are candidates.
func joinBanded(members []Member, threshold int, uf *unionFind) {
	bands := threshold + 1

	width := 64 / bands
	extra := 64 % bands

	offset := 0
	for b := 0; b < bands; b++ {
		w := width
		if b < extra {
			w++
		}
		mask := (uint64(1)<<w - 1) << offset

		buckets := make(map[uint64][]int)
		for i, m := range members {
			key := uint64(m.Hash) & mask
			buckets[key] = append(buckets[key], i)
		}

		for _, bucket := range buckets {
			for x := 0; x < len(bucket); x++ {
				for y := x + 1; y < len(bucket); y++ {
					i, j := bucket[x], bucket[y]
					if uf.find(i) == uf.find(j) {
						continue
					}
					if fingerprint.Distance(members[i].Hash, members[j].Hash) <= threshold {
						uf.union(i, j)
					}
				}
			}
		}

		offset += w
	}
}

// assemble turns union-find components into ordered clusters.
func assemble(members []Member, uf *unionFind) []models.Cluster {
	groups := make(map[int][]int)
	for i := range members {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	clusters := make([]models.Cluster, 0, len(groups))
	for _, idxs := range groups {
		rep := idxs[0]
		for _, i := range idxs[1:] {
			if earlier(members[i], members[rep]) {
				rep = i
			}
		}

		ids := make([]string, len(idxs))
		for n, i := range idxs {
			ids[n] = members[i].ID
		}
		sort.Strings(ids)

		clusters = append(clusters, models.Cluster{
			ID:               "c-" + members[rep].ID,
			RepresentativeID: members[rep].ID,
			MemberIDs:        ids,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].ID < clusters[j].ID
	})
	return clusters
}

// earlier reports whether a should represent the cluster over b: first
// by discovery time, then by ID.
func earlier(a, b Member) bool {
	if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
		return a.DiscoveredAt.Before(b.DiscoveredAt)
	}
	return a.ID < b.ID
}

// unionFind is a disjoint set over member indices with path compression
// and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri == rj {
		return
	}
	if uf.size[ri] < uf.size[rj] {
		ri, rj = rj, ri
	}
	uf.parent[rj] = ri
	uf.size[ri] += uf.size[rj]
}
