package memds

import (
	"errors"
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

var (
	ErrSrcNodeNotExist  = errors.New("source node does not exist")
	ErrDestNodeNotExist = errors.New("destination node does not exist")
)

type NodeId int64

type GraphNode[NodeData any] struct {
	Id   NodeId
	Data NodeData
}

type GraphEdge[EdgeData any] struct {
	From, To NodeId
	Data     EdgeData
}

type ThreadSafety int

const (
	ThreadUnsafe ThreadSafety = iota
	ThreadSafe
)

// DirectedGraph is a directed graph whose node ids are allocated in insertion order starting at 0.
// Self edges are allowed. Methods returning several nodes or edges return them sorted by id.
type DirectedGraph[NodeData, EdgeData any] struct {
	nodes []GraphNode[NodeData]

	//source node -> destination nodes
	from map[NodeId]map[NodeId]EdgeData

	//destination node -> source nodes
	to map[NodeId]map[NodeId]EdgeData

	edgeCount int64

	lock *sync.RWMutex //if nil the graph is not thread safe
}

// NewDirectedGraph returns an empty DirectedGraph.
func NewDirectedGraph[NodeData, EdgeData any](threadSafety ThreadSafety) *DirectedGraph[NodeData, EdgeData] {
	graph := &DirectedGraph[NodeData, EdgeData]{
		from: make(map[NodeId]map[NodeId]EdgeData),
		to:   make(map[NodeId]map[NodeId]EdgeData),
	}

	if threadSafety == ThreadSafe {
		graph.lock = &sync.RWMutex{}
	}

	return graph
}

func (g *DirectedGraph[NodeData, EdgeData]) NodeCount() int {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	return len(g.nodes)
}

func (g *DirectedGraph[NodeData, EdgeData]) EdgeCount() int64 {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}
	return g.edgeCount
}

// AddNode creates an node with the passed data and returns the new node's id.
func (g *DirectedGraph[NodeData, EdgeData]) AddNode(data NodeData) NodeId {
	if g.lock != nil {
		g.lock.Lock()
		defer g.lock.Unlock()
	}

	id := NodeId(len(g.nodes))
	g.nodes = append(g.nodes, GraphNode[NodeData]{
		Id:   id,
		Data: data,
	})
	return id
}

// Node returns the node with the given ID if it exists in the graph.
func (g *DirectedGraph[NodeData, EdgeData]) Node(id NodeId) (GraphNode[NodeData], bool) {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	if id < 0 || int(id) >= len(g.nodes) {
		return GraphNode[NodeData]{}, false
	}
	return g.nodes[id], true
}

// NodeData returns the data of the node with the given ID if it exists in the graph.
func (g *DirectedGraph[NodeData, EdgeData]) NodeData(id NodeId) (_ NodeData, _ bool) {
	node, ok := g.Node(id)
	if ok {
		return node.Data, true
	}
	return
}

// SetEdge adds an edge from one node to another, the nodes must exist.
// If the edge already exists its data is replaced.
func (g *DirectedGraph[NodeData, EdgeData]) SetEdge(from, to NodeId, data EdgeData) {
	if g.lock != nil {
		g.lock.Lock()
		defer g.lock.Unlock()
	}

	if from < 0 || int(from) >= len(g.nodes) {
		panic(ErrSrcNodeNotExist)
	}
	if to < 0 || int(to) >= len(g.nodes) {
		panic(ErrDestNodeNotExist)
	}

	//add edge in mapping SOURCE -> DESTINATION
	if fromMap, ok := g.from[from]; ok {
		if _, ok := fromMap[to]; !ok {
			g.edgeCount++
		}
		fromMap[to] = data
	} else {
		g.edgeCount++
		g.from[from] = map[NodeId]EdgeData{to: data}
	}

	//add edge in mapping DESTINATION -> SOURCE
	if toMap, ok := g.to[to]; ok {
		toMap[from] = data
	} else {
		g.to[to] = map[NodeId]EdgeData{from: data}
	}
}

// Edge returns the edge from srcId to destId if such an edge exists.
func (g *DirectedGraph[NodeData, EdgeData]) Edge(srcId, destId NodeId) (GraphEdge[EdgeData], bool) {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	data, ok := g.from[srcId][destId]
	if !ok {
		return GraphEdge[EdgeData]{}, false
	}
	return GraphEdge[EdgeData]{From: srcId, To: destId, Data: data}, true
}

// HasEdgeFromTo returns whether an edge exists in the graph from srcId to destId.
func (g *DirectedGraph[NodeData, EdgeData]) HasEdgeFromTo(srcId, destId NodeId) bool {
	_, ok := g.Edge(srcId, destId)
	return ok
}

// Edges returns all the edges in the graph, ordered by source then destination.
func (g *DirectedGraph[NodeData, EdgeData]) Edges() []GraphEdge[EdgeData] {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	var edges []GraphEdge[EdgeData]
	for _, src := range g.nodes {
		destIds := sortedIds(g.from[src.Id])
		for _, dest := range destIds {
			edges = append(edges, GraphEdge[EdgeData]{From: src.Id, To: dest, Data: g.from[src.Id][dest]})
		}
	}
	return edges
}

// DestinationIds returns the sorted ids of the nodes that can be reached directly from id.
func (g *DirectedGraph[NodeData, EdgeData]) DestinationIds(id NodeId) []NodeId {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	return sortedIds(g.from[id])
}

// SourceIds returns the sorted ids of the nodes that can reach id directly.
func (g *DirectedGraph[NodeData, EdgeData]) SourceIds(id NodeId) []NodeId {
	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	return sortedIds(g.to[id])
}

// DestinationNodes returns all nodes in g that can be reached directly from id.
func (g *DirectedGraph[NodeData, EdgeData]) DestinationNodes(id NodeId) []GraphNode[NodeData] {
	return g.nodesWithIds(g.DestinationIds(id))
}

// SourceNodes returns all nodes in g that can reach id directly.
func (g *DirectedGraph[NodeData, EdgeData]) SourceNodes(id NodeId) []GraphNode[NodeData] {
	return g.nodesWithIds(g.SourceIds(id))
}

func (g *DirectedGraph[NodeData, EdgeData]) nodesWithIds(ids []NodeId) []GraphNode[NodeData] {
	if len(ids) == 0 {
		return nil
	}

	if g.lock != nil {
		g.lock.RLock()
		defer g.lock.RUnlock()
	}

	nodes := make([]GraphNode[NodeData], 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

func sortedIds[EdgeData any](m map[NodeId]EdgeData) []NodeId {
	if len(m) == 0 {
		return nil
	}
	ids := maps.Keys(m)
	slices.Sort(ids)
	return ids
}
