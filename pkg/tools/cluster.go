// Package tools holds the catalogue operations tigger-convert applies to
// a model: clustering, COPART renaming, recentring, apparent to intrinsic
// flux conversion and primary beam handling.
package tools

import (
	"sort"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/model"
)

// A Cluster is a group of sources linked by separations under the
// clustering distance. Members are sorted brightest first, so Members[0]
// is the lead.
type Cluster struct {
	Members []*model.Source
	Flux    float64
}

func (c *Cluster) Lead() *model.Source { return c.Members[0] }

// FindClusters links sources closer than dist radians (friends of
// friends). Clusters come back brightest lead first.
func FindClusters(m *model.SkyModel, dist float64) []*Cluster {
	n := len(m.Sources)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	// sort by dec so only a strip of neighbours needs checking
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return m.Sources[order[a]].Pos.Dec < m.Sources[order[b]].Pos.Dec })
	for a, i := range order {
		si := m.Sources[i]
		for _, j := range order[a+1:] {
			sj := m.Sources[j]
			if sj.Pos.Dec-si.Pos.Dec > dist {
				break
			}
			if d, _ := coord.AngularDistPosAngle(si.Pos.RA, si.Pos.Dec, sj.Pos.RA, sj.Pos.Dec); d < dist {
				parent[find(j)] = find(i)
			}
		}
	}

	groups := map[int]*Cluster{}
	var out []*Cluster
	for i, s := range m.Sources {
		root := find(i)
		c, ok := groups[root]
		if !ok {
			c = &Cluster{}
			groups[root] = c
			out = append(out, c)
		}
		c.Members = append(c.Members, s)
		c.Flux += s.Brightness()
	}
	for _, c := range out {
		sort.SliceStable(c.Members, func(a, b int) bool { return c.Members[a].Brightness() > c.Members[b].Brightness() })
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Lead().Brightness() > out[b].Lead().Brightness() })
	return out
}

// TagClusters clusters the model and records the result on every source:
// cluster (the lead's name), cluster_size and cluster_flux, plus
// cluster_lead on each lead.
func TagClusters(m *model.SkyModel, dist float64) []*Cluster {
	clusters := FindClusters(m, dist)
	for _, c := range clusters {
		for i, s := range c.Members {
			s.SetTag("cluster", model.String(c.Lead().Name))
			s.SetTag("cluster_size", model.Int(int64(len(c.Members))))
			s.SetTag("cluster_flux", model.Float(c.Flux))
			if i == 0 {
				s.SetTag("cluster_lead", model.Bool(true))
			} else {
				s.DelTag("cluster_lead")
			}
		}
	}
	log.Infof("Found %d clusters among %d sources (%.1f\")", len(clusters), len(m.Sources), dist/coord.ARCSEC)
	m.ScanTags()
	return clusters
}
