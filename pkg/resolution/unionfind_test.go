package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFindTransitivity(t *testing.T) {
	// A~B and B~C must place A, B, C in one group even though A and C
	// were never directly linked.
	uf := newUnionFind(4)
	uf.union(0, 1)
	uf.union(1, 2)

	groups := uf.groups()
	assert.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1, 2}, groups[0])
}

func TestUnionFindDisjointGroups(t *testing.T) {
	uf := newUnionFind(6)
	uf.union(0, 1)
	uf.union(3, 4)

	groups := uf.groups()
	assert.Len(t, groups, 2)
	assert.Equal(t, []int{0, 1}, groups[0])
	assert.Equal(t, []int{3, 4}, groups[1])
}

func TestUnionFindSingletonsExcluded(t *testing.T) {
	uf := newUnionFind(3)
	assert.Empty(t, uf.groups())
}
