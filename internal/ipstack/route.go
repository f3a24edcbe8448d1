package ipstack

import "net/netip"

// trieNode is one bit-position node in the binary routing trie. label is
// set when some inserted prefix terminates exactly at this node.
type trieNode struct {
	children [2]*trieNode
	nextHop  netip.Addr
	hasLabel bool
}

// Table is an immutable-after-construction (spec.md §5: "The IP forwarding
// table is immutable after set_routes") longest-prefix-match forwarding
// table, represented as a binary trie keyed by the destination address's
// bits, MSB-first, exactly per spec.md §4.2.
type Table struct {
	root *trieNode
}

// NewTable builds a forwarding table from a set of (prefix, next-hop)
// entries. Insertion order is irrelevant; a later entry with the exact
// same prefix (address+length) overwrites an earlier one (last writer
// wins), per spec.md §3.
func NewTable(entries []RouteEntry) *Table {
	t := &Table{root: &trieNode{}}
	for _, e := range entries {
		t.insert(e.Prefix, e.NextHop)
	}
	return t
}

// RouteEntry is one (prefix, next-hop) pair as configured via
// spec.md's set_routes([(cidr, next_hop)]).
type RouteEntry struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
}

func (t *Table) insert(prefix netip.Prefix, nextHop netip.Addr) {
	addr := prefix.Addr()
	if !addr.Is4() {
		return
	}
	bits := prefix.Bits()
	n := t.root
	v := addr.As4()
	full := uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
	for i := 0; i < bits; i++ {
		bit := (full >> (31 - i)) & 1
		if n.children[bit] == nil {
			n.children[bit] = &trieNode{}
		}
		n = n.children[bit]
	}
	n.nextHop = nextHop
	n.hasLabel = true
}

// Lookup returns the next hop of the longest prefix in the table that
// matches dst, walking the trie and remembering the deepest labelled node
// visited. It returns (zero, false) when no route matches, including when
// no default route (prefix length 0) was configured.
func (t *Table) Lookup(dst netip.Addr) (netip.Addr, bool) {
	if !dst.Is4() {
		return netip.Addr{}, false
	}
	v := dst.As4()
	full := uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])

	n := t.root
	var best netip.Addr
	found := false
	if n.hasLabel {
		best = n.nextHop
		found = true
	}
	for i := 0; i < 32 && n != nil; i++ {
		bit := (full >> (31 - i)) & 1
		n = n.children[bit]
		if n == nil {
			break
		}
		if n.hasLabel {
			best = n.nextHop
			found = true
		}
	}
	return best, found
}
