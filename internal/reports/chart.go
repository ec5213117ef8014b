package reports

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
)

// Chart geometry. Charts render at 2x the size they occupy on the page so
// they stay sharp in print.
const (
	chartWidth   = 960
	chartRowH    = 56
	chartPadding = 24
	chartBarH    = 32
	chartLabelW  = 280
)

var (
	chartBarColor   = color.NRGBA{R: 0x1F, G: 0x6F, B: 0xEB, A: 0xFF}
	chartGridColor  = color.NRGBA{R: 0xD0, G: 0xD7, B: 0xDE, A: 0xFF}
	chartLabelColor = color.NRGBA{R: 0x24, G: 0x29, B: 0x2F, A: 0xFF}

	severityColors = map[string]color.NRGBA{
		"minor":    {R: 0xF5, G: 0x9F, B: 0x00, A: 0xFF},
		"major":    {R: 0xE8, G: 0x59, B: 0x0C, A: 0xFF},
		"critical": {R: 0xC9, G: 0x2A, B: 0x2A, A: 0xFF},
	}
)

// renderBarChart draws a horizontal bar chart PNG for the rows. colorFor may
// be nil, in which case every bar uses the default blue. Returns nil for an
// empty row set; the PDF prints the localized "none" line instead.
func renderBarChart(rows []labeledCount, colorFor func(label string) color.NRGBA) ([]byte, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	height := chartPadding*2 + chartRowH*len(rows)
	dc := gg.NewContext(chartWidth, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	maxCount := 0
	for _, row := range rows {
		if row.Count > maxCount {
			maxCount = row.Count
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	plotX := float64(chartPadding + chartLabelW)
	plotW := float64(chartWidth - chartPadding*2 - chartLabelW - 64)

	// Vertical gridlines at integer ticks, capped so dense charts stay
	// readable.
	step := 1
	for maxCount/step > 8 {
		step *= 2
	}
	dc.SetColor(chartGridColor)
	dc.SetLineWidth(1)
	for tick := 0; tick <= maxCount; tick += step {
		x := plotX + plotW*float64(tick)/float64(maxCount)
		dc.DrawLine(x, chartPadding, x, float64(height-chartPadding))
		dc.Stroke()
	}

	for i, row := range rows {
		y := float64(chartPadding + i*chartRowH)
		barColor := chartBarColor
		if colorFor != nil {
			barColor = colorFor(row.Label)
		}
		barW := plotW * float64(row.Count) / float64(maxCount)
		dc.SetColor(barColor)
		dc.DrawRectangle(plotX, y+float64(chartRowH-chartBarH)/2, barW, chartBarH)
		dc.Fill()

		dc.SetColor(chartLabelColor)
		dc.DrawStringAnchored(truncate(row.Label, 34), float64(chartPadding), y+float64(chartRowH)/2, 0, 0.35)
		dc.DrawStringAnchored(fmt.Sprintf("%d", row.Count), plotX+barW+12, y+float64(chartRowH)/2, 0, 0.35)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode chart png: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
