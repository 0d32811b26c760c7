package metabolate

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// BasketRow is one row of the final basket table: everything downstream
// reporting needs to regenerate a visualization without re-basketing.
type BasketRow struct {
	ID            int
	Mz            float64
	RT            float64
	Intensity     float64
	MinIntensity  float64
	MaxIntensity  float64
	Replicates    int
	LowConfidence bool

	// Samples is the sorted sample membership; SampleIntensity the
	// per-sample aggregated intensity.
	Samples         []string
	SampleIntensity map[string]float64

	// Community is the basket's cluster label, or -1 when the basket is
	// not a network node (no network built, or the basket fell below the
	// bioactivity thresholds).
	Community int

	// ActivityScore and ClusterScore are only meaningful when Scored.
	Scored        bool
	ActivityScore float64
	ClusterScore  float64
}

// BasketTable flattens a pipeline result into one row per retained
// basket, in basket-id order. It is a pure transformation: calling it
// any number of times on the same result yields identical rows.
func BasketTable(res *Result) []BasketRow {
	rows := make([]BasketRow, len(res.Baskets))
	for i, b := range res.Baskets {
		si := make(map[string]float64, len(b.SampleIntensity))
		for s, v := range b.SampleIntensity {
			si[s] = v
		}
		row := BasketRow{
			ID:              b.ID,
			Mz:              b.Mz,
			RT:              b.RT,
			Intensity:       b.Intensity,
			MinIntensity:    b.MinIntensity,
			MaxIntensity:    b.MaxIntensity,
			Replicates:      b.Replicates,
			LowConfidence:   b.LowConfidence,
			Samples:         append([]string(nil), b.Samples...),
			SampleIntensity: si,
			Community:       -1,
		}
		if res.Network != nil {
			if c, ok := res.Network.Community[b.ID]; ok {
				row.Community = c
			}
		}
		if res.Scores != nil {
			row.Scored = true
			row.ActivityScore = res.Scores[i].Activity
			row.ClusterScore = res.Scores[i].Cluster
		}
		rows[i] = row
	}
	return rows
}

// basketCSVHeader is the stable column order of the basket table.
var basketCSVHeader = []string{
	"BasketID", "PrecMz", "RetTime",
	"PrecIntensity", "MinPrecIntensity", "MaxPrecIntensity",
	"Replicates", "LowConfidence", "SampleList", "Community",
	"ACTIVITY_SCORE", "CLUSTER_SCORE",
}

// WriteBasketCSV writes the basket table as CSV with a fixed header.
// The sample list is joined with "|". Score columns are empty for
// unscored rows.
func WriteBasketCSV(w io.Writer, rows []BasketRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(basketCSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.ID),
			formatFloat(r.Mz),
			formatFloat(r.RT),
			formatFloat(r.Intensity),
			formatFloat(r.MinIntensity),
			formatFloat(r.MaxIntensity),
			strconv.Itoa(r.Replicates),
			strconv.FormatBool(r.LowConfidence),
			strings.Join(r.Samples, "|"),
			strconv.Itoa(r.Community),
			"", "",
		}
		if r.Scored {
			rec[10] = formatFloat(r.ActivityScore)
			rec[11] = formatFloat(r.ClusterScore)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// NetworkNode is a serializable node record with basket attributes.
type NetworkNode struct {
	ID         int      `json:"id"`
	Mz         float64  `json:"mz"`
	RT         float64  `json:"rt"`
	Intensity  float64  `json:"intensity"`
	Replicates int      `json:"replicates"`
	Samples    []string `json:"samples"`
	Community  int      `json:"community"`
}

// NetworkEdge is a serializable undirected edge record. Source < Target
// always, so each edge appears exactly once.
type NetworkEdge struct {
	Source int     `json:"source"`
	Target int     `json:"target"`
	Weight float64 `json:"weight"`
}

// Nodes returns the node list in ascending basket-id order.
func (net *Network) Nodes() []NetworkNode {
	nodes := make([]NetworkNode, len(net.baskets))
	for i, b := range net.baskets {
		nodes[i] = NetworkNode{
			ID:         b.ID,
			Mz:         b.Mz,
			RT:         b.RT,
			Intensity:  b.Intensity,
			Replicates: b.Replicates,
			Samples:    b.Samples,
			Community:  net.Community[b.ID],
		}
	}
	sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID < nodes[b].ID })
	return nodes
}

// Edges returns the edge list sorted by (Source, Target).
func (net *Network) Edges() []NetworkEdge {
	var edges []NetworkEdge
	it := net.g.WeightedEdges()
	for it.Next() {
		e := it.WeightedEdge()
		s, t := int(e.From().ID()), int(e.To().ID())
		if s > t {
			s, t = t, s
		}
		edges = append(edges, NetworkEdge{Source: s, Target: t, Weight: e.Weight()})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].Source != edges[b].Source {
			return edges[a].Source < edges[b].Source
		}
		return edges[a].Target < edges[b].Target
	})
	return edges
}

// --- GraphML ---

type graphmlDoc struct {
	XMLName xml.Name      `xml:"graphml"`
	Xmlns   string        `xml:"xmlns,attr"`
	Keys    []graphmlKey  `xml:"key"`
	Graph   graphmlGraph  `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// WriteGraphML serializes the network as GraphML: nodes carry basket
// attributes, edges carry weights. Output is deterministic (nodes by id,
// edges by endpoint pair).
func WriteGraphML(w io.Writer, net *Network) error {
	doc := graphmlDoc{
		Xmlns: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphmlKey{
			{ID: "mz", For: "node", AttrName: "mz", AttrType: "double"},
			{ID: "rt", For: "node", AttrName: "rt", AttrType: "double"},
			{ID: "intensity", For: "node", AttrName: "intensity", AttrType: "double"},
			{ID: "replicates", For: "node", AttrName: "replicates", AttrType: "int"},
			{ID: "samples", For: "node", AttrName: "samples", AttrType: "string"},
			{ID: "community", For: "node", AttrName: "community", AttrType: "int"},
			{ID: "weight", For: "edge", AttrName: "weight", AttrType: "double"},
		},
		Graph: graphmlGraph{EdgeDefault: "undirected"},
	}

	for _, n := range net.Nodes() {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{
			ID: strconv.Itoa(n.ID),
			Data: []graphmlData{
				{Key: "mz", Value: formatFloat(n.Mz)},
				{Key: "rt", Value: formatFloat(n.RT)},
				{Key: "intensity", Value: formatFloat(n.Intensity)},
				{Key: "replicates", Value: strconv.Itoa(n.Replicates)},
				{Key: "samples", Value: strings.Join(n.Samples, "|")},
				{Key: "community", Value: strconv.Itoa(n.Community)},
			},
		})
	}
	for _, e := range net.Edges() {
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			Source: strconv.Itoa(e.Source),
			Target: strconv.Itoa(e.Target),
			Data:   []graphmlData{{Key: "weight", Value: formatFloat(e.Weight)}},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// networkJSON is the web-reporting shape: a flat node list plus an edge
// list with synthetic edge ids ("e0", "e1", ...).
type networkJSON struct {
	Nodes []NetworkNode     `json:"nodes"`
	Edges []networkJSONEdge `json:"edges"`
}

type networkJSONEdge struct {
	ID     string  `json:"id"`
	Source int     `json:"source"`
	Target int     `json:"target"`
	Weight float64 `json:"weight"`
}

// WriteNetworkJSON serializes the network as indented JSON for web
// reporting. Deterministic for identical networks.
func WriteNetworkJSON(w io.Writer, net *Network) error {
	out := networkJSON{Nodes: net.Nodes()}
	for i, e := range net.Edges() {
		out.Edges = append(out.Edges, networkJSONEdge{
			ID:     fmt.Sprintf("e%d", i),
			Source: e.Source,
			Target: e.Target,
			Weight: e.Weight,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
