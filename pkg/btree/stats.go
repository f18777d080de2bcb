package btree

import "lealone/pkg/page"

// Stats reports a shallow snapshot of the tree's shape and publishes it
// through the map's metrics.Collector, giving the otherwise-unused
// collector interface a concrete producer.
type Stats struct {
	Size        int64
	LeafCount   int
	NodeCount   int
	RemoteCount int
	Height      int
}

func countPages(p *page.Page, leaves, nodes, remotes *int) {
	switch {
	case p.IsNode():
		*nodes++
		for _, c := range p.Children {
			countPages(c.Page(), leaves, nodes, remotes)
		}
	case p.IsRemote():
		*remotes++
	default:
		*leaves++
	}
}

// Stats walks the current root snapshot once, counting page kinds and the
// height of the leftmost path.
func (m *Map) Stats() Stats {
	root := m.root.Page()

	height := 1
	for p := root; p.IsNode(); p = p.Children[0].Page() {
		height++
	}

	var leafCount, nodeCount, remoteCount int
	countPages(root, &leafCount, &nodeCount, &remoteCount)

	s := Stats{
		Size:        m.size.Load(),
		LeafCount:   leafCount,
		NodeCount:   nodeCount,
		RemoteCount: remoteCount,
		Height:      height,
	}

	m.metrics.SetGauge("btree_size", map[string]string{"map": m.Name}, float64(s.Size))
	m.metrics.SetGauge("btree_leaf_count", map[string]string{"map": m.Name}, float64(s.LeafCount))
	m.metrics.SetGauge("btree_node_count", map[string]string{"map": m.Name}, float64(s.NodeCount))
	m.metrics.SetGauge("btree_height", map[string]string{"map": m.Name}, float64(s.Height))

	return s
}
