package cluster

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"dredge/pkg/fingerprint"
	"dredge/pkg/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// hashFlip returns base with the lowest n bits inverted, so its distance
// from base is exactly n.
func hashFlip(base fingerprint.Hash, n int) fingerprint.Hash {
	mask := uint64(1)<<n - 1
	return fingerprint.Hash(uint64(base) ^ mask)
}

func member(id string, h fingerprint.Hash, at time.Time) Member {
	return Member{ID: id, Hash: h, DiscoveredAt: at}
}

func TestBuildEmpty(t *testing.T) {
	if got := Build(nil, 10); got != nil {
		t.Errorf("Build(nil) = %v, want nil", got)
	}
}

func TestSingletons(t *testing.T) {
	members := []Member{
		member("aaa", 0x0000000000000000, t0),
		member("bbb", 0xffffffffffffffff, t0.Add(time.Minute)),
	}

	clusters := Build(members, 10)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2 singletons", len(clusters))
	}
	for _, c := range clusters {
		if c.Size() != 1 {
			t.Errorf("cluster %s has %d members, want 1", c.ID, c.Size())
		}
		if c.ID != "c-"+c.RepresentativeID {
			t.Errorf("cluster ID %q does not derive from representative %q", c.ID, c.RepresentativeID)
		}
	}
}

func TestThresholdBoundary(t *testing.T) {
	const threshold = 10

	base := fingerprint.Hash(0x5a5a5a5a5a5a5a5a)
	atThreshold := []Member{
		member("aaa", base, t0),
		member("bbb", hashFlip(base, threshold), t0.Add(time.Minute)),
	}
	clusters := Build(atThreshold, threshold)
	if len(clusters) != 1 {
		t.Errorf("distance == threshold should cluster together, got %d clusters", len(clusters))
	}

	beyond := []Member{
		member("aaa", base, t0),
		member("bbb", hashFlip(base, threshold+1), t0.Add(time.Minute)),
	}
	clusters = Build(beyond, threshold)
	if len(clusters) != 2 {
		t.Errorf("distance == threshold+1 should stay apart, got %d clusters", len(clusters))
	}
}

func TestTransitiveChaining(t *testing.T) {
	base := fingerprint.Hash(0)
	// a-b and b-c are 8 apart, a-c is 16 apart. All three still join
	// through b.
	members := []Member{
		member("a", base, t0),
		member("b", hashFlip(base, 8), t0.Add(time.Minute)),
		member("c", hashFlip(base, 16), t0.Add(2*time.Minute)),
	}

	clusters := Build(members, 10)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1 chained cluster", len(clusters))
	}
	if clusters[0].Size() != 3 {
		t.Errorf("cluster has %d members, want 3", clusters[0].Size())
	}
}

func TestRepresentativeSelection(t *testing.T) {
	base := fingerprint.Hash(0x00ff00ff00ff00ff)

	// zzz discovered first beats the lexically smaller aaa.
	members := []Member{
		member("aaa", base, t0.Add(time.Hour)),
		member("zzz", hashFlip(base, 2), t0),
	}
	clusters := Build(members, 10)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if clusters[0].RepresentativeID != "zzz" {
		t.Errorf("representative = %q, want earliest discovered zzz", clusters[0].RepresentativeID)
	}

	// Equal discovery times fall back to the smaller ID.
	members = []Member{
		member("mmm", base, t0),
		member("aaa", hashFlip(base, 2), t0),
	}
	clusters = Build(members, 10)
	if clusters[0].RepresentativeID != "aaa" {
		t.Errorf("representative = %q, want lexical tie-break aaa", clusters[0].RepresentativeID)
	}
}

func TestBuildIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	var members []Member
	for i := 0; i < 60; i++ {
		members = append(members, member(
			fmt.Sprintf("m%03d", i),
			fingerprint.Hash(rng.Uint64()),
			t0.Add(time.Duration(i)*time.Second),
		))
	}
	// Salt in some guaranteed near-duplicates.
	for i := 0; i < 10; i++ {
		members = append(members, member(
			fmt.Sprintf("d%03d", i),
			hashFlip(members[i].Hash, 3),
			t0.Add(time.Duration(100+i)*time.Second),
		))
	}

	want := Build(members, 10)

	for trial := 0; trial < 5; trial++ {
		shuffled := make([]Member, len(members))
		copy(shuffled, members)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := Build(shuffled, 10)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: shuffled input changed the clustering", trial)
		}
	}
}

// bruteForce is the reference clustering: compare every pair directly.
func bruteForce(members []Member, threshold int) []models.Cluster {
	uf := newUnionFind(len(members))
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if fingerprint.Distance(members[i].Hash, members[j].Hash) <= threshold {
				uf.union(i, j)
			}
		}
	}
	return assemble(members, uf)
}

func TestBandedMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, threshold := range []int{0, 4, 10, 20} {
		var members []Member
		for i := 0; i < 80; i++ {
			var h fingerprint.Hash
			if i%3 == 0 && i > 0 {
				// Mutate an earlier hash by a few bits to force near pairs.
				h = hashFlip(members[rng.Intn(i)].Hash, rng.Intn(threshold+2))
			} else {
				h = fingerprint.Hash(rng.Uint64())
			}
			members = append(members, member(
				fmt.Sprintf("m%03d", i),
				h,
				t0.Add(time.Duration(i)*time.Second),
			))
		}

		got := Build(members, threshold)
		want := bruteForce(members, threshold)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("threshold %d: banded clustering diverged from brute force", threshold)
		}
	}
}

func TestMemberListsAreSorted(t *testing.T) {
	base := fingerprint.Hash(0x1234123412341234)
	members := []Member{
		member("ccc", base, t0),
		member("aaa", hashFlip(base, 1), t0.Add(time.Second)),
		member("bbb", hashFlip(base, 2), t0.Add(2*time.Second)),
	}

	clusters := Build(members, 10)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	want := []string{"aaa", "bbb", "ccc"}
	if !reflect.DeepEqual(clusters[0].MemberIDs, want) {
		t.Errorf("MemberIDs = %v, want %v", clusters[0].MemberIDs, want)
	}
}
