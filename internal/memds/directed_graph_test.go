package memds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectedGraph(t *testing.T) {

	t.Run("AddNode", func(t *testing.T) {
		t.Run("base case", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			id := g.AddNode(3)
			assert.Equal(t, NodeId(0), id)

			//check that node0 has been created
			node, ok := g.Node(id)
			if !assert.True(t, ok) {
				return
			}
			assert.Equal(t, 3, node.Data)
			assert.Equal(t, id, node.Id)

			data, ok := g.NodeData(id)
			if !assert.True(t, ok) {
				return
			}
			assert.Equal(t, 3, data)

			//other checks
			assert.Zero(t, g.EdgeCount())
			assert.Empty(t, g.Edges())
			assert.Equal(t, 1, g.NodeCount())
		})

		t.Run("twice", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadSafe)
			id0 := g.AddNode(3)
			id1 := g.AddNode(4)

			assert.Equal(t, NodeId(0), id0)
			assert.Equal(t, NodeId(1), id1)

			data, ok := g.NodeData(id1)
			if !assert.True(t, ok) {
				return
			}
			assert.Equal(t, 4, data)
			assert.Equal(t, 2, g.NodeCount())

			_, ok = g.Node(2)
			assert.False(t, ok)
		})
	})

	t.Run("SetEdge", func(t *testing.T) {
		t.Run("base case", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			id0 := g.AddNode(3)
			id1 := g.AddNode(4)

			g.SetEdge(id0, id1, 7)

			//check that the edge has been created
			if !assert.True(t, g.HasEdgeFromTo(id0, id1)) {
				return
			}
			assert.False(t, g.HasEdgeFromTo(id1, id0))

			assert.Equal(t, int64(1), g.EdgeCount())
			assert.Equal(t, []GraphEdge[int]{
				{
					From: id0,
					To:   id1,
					Data: 7,
				},
			}, g.Edges())

			//check destination nodes
			assert.Equal(t, []GraphNode[int]{{Id: id1, Data: 4}}, g.DestinationNodes(id0))
			assert.Empty(t, g.DestinationNodes(id1))

			//check source nodes
			assert.Equal(t, []GraphNode[int]{{Id: id0, Data: 3}}, g.SourceNodes(id1))
			assert.Empty(t, g.SourceNodes(id0))
		})

		t.Run("set edge twice but with different data", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			id0 := g.AddNode(3)
			id1 := g.AddNode(4)

			g.SetEdge(id0, id1, 7)
			g.SetEdge(id0, id1, 8)

			assert.Equal(t, int64(1), g.EdgeCount())
			assert.Equal(t, []GraphEdge[int]{
				{
					From: id0,
					To:   id1,
					Data: 8,
				},
			}, g.Edges())
		})

		t.Run("self edge", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			id0 := g.AddNode(3)

			g.SetEdge(id0, id0, 1)
			assert.Equal(t, []NodeId{id0}, g.DestinationIds(id0))
			assert.Equal(t, []NodeId{id0}, g.SourceIds(id0))
		})

		t.Run("ids are sorted", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			for i := 0; i < 5; i++ {
				g.AddNode(i)
			}
			g.SetEdge(0, 4, 0)
			g.SetEdge(0, 2, 0)
			g.SetEdge(0, 3, 0)
			g.SetEdge(3, 2, 0)

			assert.Equal(t, []NodeId{2, 3, 4}, g.DestinationIds(0))
			assert.Equal(t, []NodeId{0, 3}, g.SourceIds(2))
		})

		t.Run("inexisting source node", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			id0 := g.AddNode(3)

			assert.PanicsWithError(t, ErrSrcNodeNotExist.Error(), func() {
				g.SetEdge(5, id0, 7)
			})
			assert.Zero(t, g.EdgeCount())
		})

		t.Run("inexisting destination node", func(t *testing.T) {
			g := NewDirectedGraph[int, int](ThreadUnsafe)
			id0 := g.AddNode(3)

			assert.PanicsWithError(t, ErrDestNodeNotExist.Error(), func() {
				g.SetEdge(id0, 5, 7)
			})
			assert.Zero(t, g.EdgeCount())
			assert.Empty(t, g.Edges())
		})
	})
}
