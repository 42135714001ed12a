package tools

import (
	"fmt"
	"math"
	"regexp"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/model"
)

// COPARTName matches names made by Rename: radial tier letter, two digit PA
// tier, brightness rank (digit or x), cluster member letters, type code.
var COPARTName = regexp.MustCompile(`^[A-Z][0-9]{2}[0-9x]([a-z]+)?(G|F)?$`)

// typeSuffix is G for Gaussians, F for FITS images, empty for points.
func typeSuffix(s *model.Source) string {
	switch s.Shape.(type) {
	case *model.Gaussian:
		return "G"
	case *model.FITSImage:
		return "F"
	}
	return ""
}

// memberSuffix is a, b, ... z, aa, ab, ...
func memberSuffix(k int) string {
	s := ""
	for k++; k > 0; k = (k - 1) / 26 {
		s = string(rune('a'+(k-1)%26)) + s
	}
	return s
}

type copartCell struct{ radial, pa int }

// Rename gives every source a COPART name (Cluster Ordering by Position
// Angle and Radial Tier). Clusters within clusterDist are named after
// their lead; radialStep is the width of a radial tier, in radians.
func Rename(m *model.SkyModel, radialStep, clusterDist float64) {
	ra0, dec0, _ := m.FieldCenter()
	clusters := TagClusters(m, clusterDist)

	cells := map[copartCell][]*Cluster{}
	var order []copartCell
	for _, c := range clusters {
		d, pa := coord.AngularDistPosAngle(ra0, dec0, c.Lead().Pos.RA, c.Lead().Pos.Dec)
		if pa < 0 {
			pa += 2 * math.Pi
		}
		cell := copartCell{min(int(d/radialStep), 25), int(pa/(10*coord.DEG)) % 36}
		if _, ok := cells[cell]; !ok {
			order = append(order, cell)
		}
		cells[cell] = append(cells[cell], c)
	}

	for _, cell := range order {
		// clusters arrive brightest first, so position in the cell is rank
		var overflow []*model.Source
		for rank, c := range cells[cell] {
			if rank >= 10 {
				overflow = append(overflow, c.Members...)
				continue
			}
			base := fmt.Sprintf("%c%02d%d", 'A'+cell.radial, cell.pa, rank)
			c.Lead().Name = base + typeSuffix(c.Lead())
			for k, s := range c.Members[1:] {
				s.Name = base + memberSuffix(k) + typeSuffix(s)
			}
		}
		// past ten, one shared x name with letters for everything after
		base := fmt.Sprintf("%c%02dx", 'A'+cell.radial, cell.pa)
		for k, s := range overflow {
			if k == 0 {
				s.Name = base + typeSuffix(s)
			} else {
				s.Name = base + memberSuffix(k-1) + typeSuffix(s)
			}
		}
	}

	for _, c := range clusters {
		for _, s := range c.Members {
			s.SetTag("cluster", model.String(c.Lead().Name))
		}
	}
	m.Reindex()
	log.Infof("Renamed %d sources in %d clusters", len(m.Sources), len(clusters))
}
