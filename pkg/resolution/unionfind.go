package resolution

// unionFind is an arena-indexed disjoint-set with path compression and
// union by rank. Indices map to entity positions in the detection arena.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// groups returns the connected components with at least two members, as
// slices of arena indices. Component order follows the smallest index in
// each component; members are in ascending index order.
func (uf *unionFind) groups() [][]int {
	byRoot := make(map[int][]int)
	order := make([]int, 0)
	for i := range uf.parent {
		root := uf.find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}
	out := make([][]int, 0)
	for _, root := range order {
		if members := byRoot[root]; len(members) > 1 {
			out = append(out, members)
		}
	}
	return out
}
