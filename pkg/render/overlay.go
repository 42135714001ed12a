package render

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/model"
)

// ParseColor accepts an SVG colour name or a #rrggbb hex string.
func ParseColor(s string) (color.Color, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("colour %q not recognized", s)
}

// FormatLabel expands a label template: %N name, %T type code, %I
// brightness, %% a literal percent.
func FormatLabel(tmpl string, src *model.Source) string {
	var sb strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' || i == len(tmpl)-1 {
			sb.WriteByte(tmpl[i])
			continue
		}
		i++
		switch tmpl[i] {
		case 'N':
			sb.WriteString(src.Name)
		case 'T':
			sb.WriteString(src.TypeCode())
		case 'I':
			fmt.Fprintf(&sb, "%.3g", src.Brightness())
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(tmpl[i])
		}
	}
	return sb.String()
}

var labelFont, _ = truetype.Parse(goregular.TTF)

func styleColor(s *string, def color.Color) color.Color {
	if s == nil {
		return def
	}
	c, err := ParseColor(*s)
	if err != nil {
		return def
	}
	return c
}

func styleInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// DrawOverlay draws the model's visible sources over a raster rendered
// with vp from cube. It returns a new image.
func DrawOverlay(img image.Image, m *model.SkyModel, cube *fitsimage.Cube, vp Viewport) image.Image {
	dc := gg.NewContextForImage(img)
	n := 0
	for _, src := range m.Sources {
		style, ok := m.ResolveStyle(src)
		if !ok {
			continue
		}
		if src.Selected {
			sel := model.SelectionStyle()
			sel.Overlay(style)
			style = sel
		}
		px, py := cube.PixProj.LM(src.Pos.RA, src.Pos.Dec)
		x, y := vp.ToDisplay(px, py)
		if x < 0 || y < 0 || x >= float64(vp.W) || y >= float64(vp.H) {
			continue
		}
		drawSymbol(dc, style, x, y)
		if style.Label != nil && *style.Label != "" {
			size := float64(styleInt(style.LabelSize, 6))
			if labelFont != nil {
				dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: size * 1.5}))
			}
			dc.SetColor(styleColor(style.LabelColor, colornames.Blue))
			r := float64(styleInt(style.SymbolSize, 2)) * 2
			dc.DrawString(FormatLabel(*style.Label, src), x+r+2, y-r-2)
		}
		n++
	}
	log.Debugf("Overlay: %d of %d sources drawn", n, len(m.Sources))
	return dc.Image()
}

func drawSymbol(dc *gg.Context, style *model.PlotStyle, x, y float64) {
	r := float64(styleInt(style.SymbolSize, 2)) * 2
	dc.SetColor(styleColor(style.SymbolColor, colornames.Yellow))
	dc.SetLineWidth(float64(max(styleInt(style.SymbolLinewidth, 0), 1)))
	sym := "plus"
	if style.Symbol != nil {
		sym = *style.Symbol
	}
	switch sym {
	case "none":
		return
	case "cross", "x":
		dc.DrawLine(x-r, y-r, x+r, y+r)
		dc.DrawLine(x-r, y+r, x+r, y-r)
	case "circle":
		dc.DrawCircle(x, y, r)
	case "square":
		dc.DrawRectangle(x-r, y-r, 2*r, 2*r)
	case "diamond":
		dc.MoveTo(x, y-r)
		dc.LineTo(x+r, y)
		dc.LineTo(x, y+r)
		dc.LineTo(x-r, y)
		dc.ClosePath()
	case "dot":
		dc.DrawPoint(x, y, r/2)
		dc.Fill()
		return
	default:
		dc.DrawLine(x-r, y, x+r, y)
		dc.DrawLine(x, y-r, x, y+r)
	}
	dc.Stroke()
}
