// Package graph builds the directly-follows graph of a session dataset:
// one node per activity, one edge per observed transition with its
// average duration, plus synthetic start and end nodes.
package graph

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// Synthetic node ids.
const (
	StartID = "start"
	EndID   = "end"
)

// Graph is a directly-follows graph.
type Graph struct {
	Nodes    []*Node `json:"nodes"`
	Edges    []*Edge `json:"edges"`
	Sessions int64   `json:"-"`
	Events   int64   `json:"-"`
}

// Node is an activity.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Count int64  `json:"count"`
	Color string `json:"color"`
}

// Edge is a directly-follows relation between two activities.
type Edge struct {
	From        string  `json:"source"`
	To          string  `json:"target"`
	Count       int64   `json:"count"`
	AvgDuration float64 `json:"avg_seconds"`
	Label       string  `json:"label"`
}

// Builder accumulates events. Events are grouped by session id, so
// sessions may interleave; within a session they must arrive in time order.
type Builder struct {
	nodes map[string]*Node
	edges map[[2]string]*Edge

	// last event seen per session
	open map[string]lastEvent

	events int64
}

type lastEvent struct {
	desc string
	ts   time.Time
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]*Node),
		edges: make(map[[2]string]*Edge),
		open:  make(map[string]lastEvent),
	}
}

// Add records one event.
func (b *Builder) Add(sessionID string, ts time.Time, desc string) {
	b.events++
	b.node(desc, "blue").Count++

	if prev, ok := b.open[sessionID]; ok {
		seconds := ts.Sub(prev.ts).Seconds()
		e := b.edge(prev.desc, desc)
		e.Count++
		e.AvgDuration += (seconds - e.AvgDuration) / float64(e.Count)
	} else {
		b.edge(StartID, desc).Count++
	}
	b.open[sessionID] = lastEvent{desc: desc, ts: ts}
}

func (b *Builder) node(id, color string) *Node {
	n := b.nodes[id]
	if n == nil {
		n = &Node{ID: id, Label: id, Color: color}
		b.nodes[id] = n
	}
	return n
}

func (b *Builder) edge(from, to string) *Edge {
	key := [2]string{from, to}
	e := b.edges[key]
	if e == nil {
		e = &Edge{From: from, To: to}
		b.edges[key] = e
	}
	return e
}

// Graph finalizes the graph. Nodes are ordered start, activities by name,
// end; edges by source then target.
func (b *Builder) Graph() *Graph {
	sessions := int64(len(b.open))
	g := &Graph{Sessions: sessions, Events: b.events}

	g.Nodes = append(g.Nodes, &Node{ID: StartID, Label: "Start", Count: sessions, Color: "green"})
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := *b.nodes[id]
		g.Nodes = append(g.Nodes, &n)
	}
	g.Nodes = append(g.Nodes, &Node{ID: EndID, Label: "End", Count: sessions, Color: "red"})

	ends := make(map[string]int64)
	for _, last := range b.open {
		ends[last.desc]++
	}
	for desc, n := range ends {
		g.Edges = append(g.Edges, &Edge{From: desc, To: EndID, Count: n, Label: strconv.FormatInt(n, 10)})
	}
	for _, e := range b.edges {
		edge := *e
		if edge.From == StartID || edge.To == EndID {
			edge.Label = strconv.FormatInt(edge.Count, 10)
		} else {
			edge.Label = fmt.Sprintf("%d\n%.2f sec avg", edge.Count, edge.AvgDuration)
		}
		g.Edges = append(g.Edges, &edge)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g
}

// Build reads a dataset with the SessionID,Timestamp,Description layout.
func Build(ctx context.Context, r io.Reader) (*Graph, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil && !errors.Is(err, io.EOF) {
		return nil, lferrors.Wrap(err, lferrors.CodeParseFailed, "failed to read header")
	}

	b := NewBuilder()
	var row int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeParseFailed, "failed to read row").WithContext("row", row)
		}
		if row&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, lferrors.ContextCanceled("graph", err).WithContext("row", row)
			}
		}
		ts, err := time.Parse(sessiongen.TimestampLayout, rec[1])
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeParseFailed, "invalid timestamp").
				WithContext("row", row).
				WithContext("value", rec[1])
		}
		b.Add(rec[0], ts, rec[2])
	}
	return b.Graph(), nil
}

// Cytoscape is the element layout consumed by cytoscape.js.
type Cytoscape struct {
	Nodes []Element[*Node] `json:"nodes"`
	Edges []Element[*Edge] `json:"edges"`
}

// Element wraps a node or edge under the "data" key.
type Element[T any] struct {
	Data T `json:"data"`
}

// Cytoscape converts g to cytoscape elements.
func (g *Graph) Cytoscape() Cytoscape {
	out := Cytoscape{
		Nodes: make([]Element[*Node], len(g.Nodes)),
		Edges: make([]Element[*Edge], len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = Element[*Node]{Data: n}
	}
	for i, e := range g.Edges {
		out.Edges[i] = Element[*Edge]{Data: e}
	}
	return out
}

// WriteJSON writes the cytoscape form of g to w.
func (g *Graph) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g.Cytoscape()); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to encode graph")
	}
	return nil
}
