package dsp

import (
	"errors"
	"fmt"
)

// ErrCycle is returned when a connection would make the graph cyclic.
var ErrCycle = errors.New("connection would create a cycle")

// NodeID identifies a node in a Graph.
type NodeID int

type node struct {
	name   string
	stage  Stage
	inputs []NodeID
	out    *Block
	live   bool
}

// Graph is an arena of stages connected by directed edges. Each render sums
// a node's inputs into its own block, then runs its stage over that block.
// Nodes without inputs start from silence, which is how sources inject audio.
type Graph struct {
	blockSize int
	nodes     []*node
	order     []NodeID
	dirty     bool
}

// NewGraph creates an empty graph rendering blockSize frames at a time.
func NewGraph(blockSize int) *Graph {
	return &Graph{blockSize: blockSize}
}

// BlockSize returns the frames rendered per call.
func (g *Graph) BlockSize() int { return g.blockSize }

// Add inserts a stage and returns its id. A nil stage is a plain summing bus.
func (g *Graph) Add(name string, s Stage) NodeID {
	g.nodes = append(g.nodes, &node{
		name:  name,
		stage: s,
		out:   NewBlock(g.blockSize),
		live:  true,
	})
	g.dirty = true
	return NodeID(len(g.nodes) - 1)
}

// Remove drops a node and every edge touching it.
func (g *Graph) Remove(id NodeID) {
	n, err := g.node(id)
	if err != nil {
		return
	}
	n.live = false
	n.inputs = nil
	for _, other := range g.nodes {
		other.inputs = without(other.inputs, id)
	}
	g.dirty = true
}

// Connect routes from's output into to's input.
func (g *Graph) Connect(from, to NodeID) error {
	if _, err := g.node(from); err != nil {
		return err
	}
	dst, err := g.node(to)
	if err != nil {
		return err
	}
	for _, in := range dst.inputs {
		if in == from {
			return nil
		}
	}
	if from == to || g.reaches(to, from) {
		return fmt.Errorf("connect %s -> %s: %w", g.nodes[from].name, dst.name, ErrCycle)
	}
	dst.inputs = append(dst.inputs, from)
	g.dirty = true
	return nil
}

// Chain connects ids in sequence.
func (g *Graph) Chain(ids ...NodeID) error {
	for i := 1; i < len(ids); i++ {
		if err := g.Connect(ids[i-1], ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect removes the edge from -> to if present.
func (g *Graph) Disconnect(from, to NodeID) {
	dst, err := g.node(to)
	if err != nil {
		return
	}
	dst.inputs = without(dst.inputs, from)
	g.dirty = true
}

// Inputs returns the nodes feeding id.
func (g *Graph) Inputs(id NodeID) []NodeID {
	n, err := g.node(id)
	if err != nil {
		return nil
	}
	return append([]NodeID(nil), n.inputs...)
}

// Output returns the block id produced on the last render.
func (g *Graph) Output(id NodeID) *Block {
	n, err := g.node(id)
	if err != nil {
		return nil
	}
	return n.out
}

// Render processes one block starting at engine sample t.
func (g *Graph) Render(t int64) {
	if g.dirty {
		g.sort()
	}
	for _, id := range g.order {
		n := g.nodes[id]
		n.out.Clear()
		n.out.Time = t
		for _, in := range n.inputs {
			n.out.Add(g.nodes[in].out)
		}
		if n.stage != nil {
			n.stage.Process(n.out)
		}
	}
}

func (g *Graph) node(id NodeID) (*node, error) {
	if id < 0 || int(id) >= len(g.nodes) || !g.nodes[id].live {
		return nil, fmt.Errorf("unknown node %d", id)
	}
	return g.nodes[id], nil
}

// reaches reports whether dst is downstream of src.
func (g *Graph) reaches(src, dst NodeID) bool {
	// walk upstream from dst looking for src
	seen := make(map[NodeID]bool)
	stack := []NodeID{dst}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == src {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.nodes[id].inputs...)
	}
	return false
}

// sort orders live nodes so every node renders after its inputs.
func (g *Graph) sort() {
	indeg := make([]int, len(g.nodes))
	outs := make([][]NodeID, len(g.nodes))
	for id, n := range g.nodes {
		if !n.live {
			continue
		}
		for _, in := range n.inputs {
			indeg[id]++
			outs[in] = append(outs[in], NodeID(id))
		}
	}
	g.order = g.order[:0]
	var queue []NodeID
	for id, n := range g.nodes {
		if n.live && indeg[id] == 0 {
			queue = append(queue, NodeID(id))
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.order = append(g.order, id)
		for _, o := range outs[id] {
			if indeg[o]--; indeg[o] == 0 {
				queue = append(queue, o)
			}
		}
	}
	g.dirty = false
}

func without(ids []NodeID, drop NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
