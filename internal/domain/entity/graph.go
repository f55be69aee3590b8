package entity

import (
	"sort"
)

// Memory vector slots. The vector is a decayed behavioural fingerprint, not a learned embedding.
const (
	MemoryAvgTransferSize = iota
	MemoryFrequencyPerMinute
	MemoryRecencyScore
	MemoryClusterAffinity
	MemorySize
)

// Node represents a wallet within one snapshot
type Node struct {
	Address       string              `json:"address"`
	FirstSeen     int64               `json:"first_seen"`
	LastSeen      int64               `json:"last_seen"`
	TotalInflow   float64             `json:"total_inflow"`
	TotalOutflow  float64             `json:"total_outflow"`
	TransferCount int                 `json:"transfer_count"`
	Memory        [MemorySize]float64 `json:"memory"`
}

// OutflowRatio returns outflow / (outflow + inflow), or 0 for a node with no volume
func (n Node) OutflowRatio() float64 {
	total := n.TotalOutflow + n.TotalInflow
	if total <= 0 {
		return 0
	}
	return n.TotalOutflow / total
}

// LifetimeMs returns the observed activity span of the wallet
func (n Node) LifetimeMs() int64 {
	return n.LastSeen - n.FirstSeen
}

// Edge represents one directed transfer. Parallel edges are kept.
type Edge struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Amount      float64      `json:"amount"`
	TimestampMs int64        `json:"timestamp_ms"`
	Kind        TransferKind `json:"kind"`
}

// Snapshot is an immutable point-in-time transfer graph
type Snapshot struct {
	timestampMs int64
	nodes       map[string]Node
	edges       []Edge
	addresses   []string
	outIdx      map[string][]int
	inIdx       map[string][]int
}

// NewSnapshot copies nodes and edges into a new snapshot and indexes them
func NewSnapshot(timestampMs int64, nodes map[string]Node, edges []Edge) *Snapshot {
	s := &Snapshot{
		timestampMs: timestampMs,
		nodes:       make(map[string]Node, len(nodes)),
		edges:       make([]Edge, len(edges)),
		addresses:   make([]string, 0, len(nodes)),
		outIdx:      make(map[string][]int, len(nodes)),
		inIdx:       make(map[string][]int, len(nodes)),
	}
	for addr, n := range nodes {
		s.nodes[addr] = n
		s.addresses = append(s.addresses, addr)
	}
	sort.Strings(s.addresses)

	copy(s.edges, edges)
	for i, e := range s.edges {
		s.outIdx[e.From] = append(s.outIdx[e.From], i)
		s.inIdx[e.To] = append(s.inIdx[e.To], i)
	}
	return s
}

// TimestampMs returns the snapshot creation time
func (s *Snapshot) TimestampMs() int64 { return s.timestampMs }

// NodeCount returns the number of wallets
func (s *Snapshot) NodeCount() int { return len(s.nodes) }

// EdgeCount returns the number of transfers
func (s *Snapshot) EdgeCount() int { return len(s.edges) }

// IsEmpty reports whether the snapshot holds no transfers
func (s *Snapshot) IsEmpty() bool { return len(s.edges) == 0 }

// Node returns the wallet node for an address
func (s *Snapshot) Node(address string) (Node, bool) {
	n, ok := s.nodes[address]
	return n, ok
}

// Addresses returns all wallet addresses in ascending order
func (s *Snapshot) Addresses() []string {
	out := make([]string, len(s.addresses))
	copy(out, s.addresses)
	return out
}

// Nodes returns all nodes ordered by address
func (s *Snapshot) Nodes() []Node {
	out := make([]Node, 0, len(s.addresses))
	for _, addr := range s.addresses {
		out = append(out, s.nodes[addr])
	}
	return out
}

// Edges returns a copy of all edges in insertion order
func (s *Snapshot) Edges() []Edge {
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// OutEdges returns the transfers sent by a wallet in insertion order
func (s *Snapshot) OutEdges(address string) []Edge {
	return s.collect(s.outIdx[address])
}

// InEdges returns the transfers received by a wallet in insertion order
func (s *Snapshot) InEdges(address string) []Edge {
	return s.collect(s.inIdx[address])
}

func (s *Snapshot) collect(idx []int) []Edge {
	out := make([]Edge, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.edges[i])
	}
	return out
}

// GraphMetrics summarises the structure of a snapshot
type GraphMetrics struct {
	NodeCount          int     `json:"node_count"`
	EdgeCount          int     `json:"edge_count"`
	AvgDegree          float64 `json:"avg_degree"`
	Density            float64 `json:"density"`
	MaxOutflowNode     string  `json:"max_outflow_node"`
	MaxOutflowShare    float64 `json:"max_outflow_share"`
	ClusterCoefficient float64 `json:"cluster_coefficient"`
}

// Metrics derives structural metrics. AvgDegree counts in+out degree including
// parallel edges; Density and ClusterCoefficient use the simple projection.
func (s *Snapshot) Metrics() GraphMetrics {
	m := GraphMetrics{
		NodeCount: len(s.nodes),
		EdgeCount: len(s.edges),
	}
	if m.NodeCount == 0 {
		return m
	}
	m.AvgDegree = 2 * float64(m.EdgeCount) / float64(m.NodeCount)

	pairs := make(map[[2]string]struct{}, len(s.edges))
	neighbors := make(map[string]map[string]struct{}, len(s.nodes))
	for _, e := range s.edges {
		pairs[[2]string{e.From, e.To}] = struct{}{}
		link(neighbors, e.From, e.To)
		link(neighbors, e.To, e.From)
	}
	if m.NodeCount > 1 {
		m.Density = float64(len(pairs)) / float64(m.NodeCount*(m.NodeCount-1))
	}

	var totalOutflow, maxOutflow float64
	var clustering float64
	for _, addr := range s.addresses {
		n := s.nodes[addr]
		totalOutflow += n.TotalOutflow
		if n.TotalOutflow > maxOutflow {
			maxOutflow = n.TotalOutflow
			m.MaxOutflowNode = addr
		}
		clustering += localClustering(neighbors, addr)
	}
	if totalOutflow > 0 {
		m.MaxOutflowShare = maxOutflow / totalOutflow
	}
	m.ClusterCoefficient = clustering / float64(m.NodeCount)
	return m
}

func link(adj map[string]map[string]struct{}, a, b string) {
	row := adj[a]
	if row == nil {
		row = make(map[string]struct{}, 4)
		adj[a] = row
	}
	row[b] = struct{}{}
}

// localClustering is the fraction of neighbour pairs that are themselves linked
func localClustering(adj map[string]map[string]struct{}, addr string) float64 {
	row := adj[addr]
	k := len(row)
	if k < 2 {
		return 0
	}
	ns := make([]string, 0, k)
	for n := range row {
		ns = append(ns, n)
	}
	links := 0
	for i := 0; i < len(ns); i++ {
		for j := i + 1; j < len(ns); j++ {
			if _, ok := adj[ns[i]][ns[j]]; ok {
				links++
			}
		}
	}
	return 2 * float64(links) / float64(k*(k-1))
}
