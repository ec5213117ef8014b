package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"strings"

	"github.com/go-pdf/fpdf"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/i18n"
)

const (
	pageMargin   = 15.0
	contentWidth = 180.0 // A4 portrait minus both margins
)

// Render builds the review report PDF and returns the document bytes and the
// page count. The language decides every label; finding titles and
// descriptions print as entered in the review's working language.
func Render(data *Data) ([]byte, int, error) {
	if data == nil || data.Review == nil || data.HostOrg == nil {
		return nil, 0, fmt.Errorf("report data incomplete")
	}
	lang := types.NormalizeLocale(data.Language)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin+10)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	label := func(key string, args ...interface{}) string {
		return tr(i18n.T(lang, "report."+key, args...))
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 6,
			tr(i18n.T(lang, "report.page", pdf.PageNo(), "{nb}")),
			"", 0, "C", false, 0, "")
	})
	pdf.AliasNbPages("{nb}")

	r := &renderer{pdf: pdf, tr: tr, lang: lang, label: label}
	r.cover(data)
	r.summary(data)
	r.findings(data)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, 0, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), pdf.PageCount(), nil
}

type renderer struct {
	pdf   *fpdf.Fpdf
	tr    func(string) string
	lang  string
	label func(key string, args ...interface{}) string

	imageSeq int
}

func (r *renderer) cover(data *Data) {
	pdf := r.pdf
	review := data.Review
	pdf.AddPage()

	pdf.SetTextColor(0x1F, 0x6F, 0xEB)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 16, r.label("title"), "", 1, "L", false, 0, "")
	pdf.SetTextColor(36, 41, 47)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, r.tr(review.Reference), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	r.kv(r.label("host"), data.HostOrg.Name+" ("+data.HostOrg.ICAOCode+")")
	r.kv(r.label("cycle"), fmt.Sprintf("%d", review.CycleYear))
	if review.StartsOn != nil && review.EndsOn != nil {
		r.kv(r.label("dates"), review.StartsOn.Format("2006-01-02")+" - "+review.EndsOn.Format("2006-01-02"))
	}
	if review.Location != "" {
		r.kv(r.label("location"), review.Location)
	}
	r.kv(r.label("language"), i18n.T(r.lang, "label.language."+review.Language))
	r.kv(r.label("scope"), r.scopeLine(data))
	r.kv(r.label("generated"), data.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, r.label("team"), "B", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, entry := range data.Team {
		if entry.Member == nil || !entry.Member.Seated() || entry.Member.InviteStatus != types.InviteAccepted {
			continue
		}
		name := "?"
		if entry.User != nil {
			name = strings.TrimSpace(entry.User.FirstName + " " + entry.User.LastName)
		}
		org := ""
		if entry.Org != nil {
			org = " - " + entry.Org.Name
		}
		role := i18n.T(r.lang, "label.team_role."+entry.Member.Role)
		pdf.CellFormat(0, 6, r.tr(name+" ("+role+")"+org), "", 1, "L", false, 0, "")
	}
}

func (r *renderer) scopeLine(data *Data) string {
	if len(data.Review.Scope) == 0 {
		return i18n.T(r.lang, "report.full_scope")
	}
	var codes []string
	if err := json.Unmarshal(data.Review.Scope, &codes); err != nil || len(codes) == 0 {
		return i18n.T(r.lang, "report.full_scope")
	}
	names := make([]string, 0, len(codes))
	for _, code := range codes {
		if name, ok := data.DomainNames[code]; ok && name != "" {
			names = append(names, name)
			continue
		}
		names = append(names, code)
	}
	return strings.Join(names, ", ")
}

func (r *renderer) summary(data *Data) {
	pdf := r.pdf
	pdf.AddPage()
	r.heading(r.label("summary"))

	kinds := data.countByKind()
	total := 0
	for _, n := range kinds {
		total += n
	}
	actionsTotal, actionsOpen := data.actionCounts()

	rows := [][2]string{
		{r.label("summary_findings"), fmt.Sprintf("%d", total)},
		{r.label("summary_non_conformities"), fmt.Sprintf("%d", kinds[types.FindingKindNonConformity])},
		{r.label("summary_observations"), fmt.Sprintf("%d", kinds[types.FindingKindObservation])},
		{r.label("summary_good_practices"), fmt.Sprintf("%d", kinds[types.FindingKindGoodPractice])},
		{r.label("summary_actions"), fmt.Sprintf("%d", actionsTotal)},
		{r.label("summary_open_actions"), fmt.Sprintf("%d", actionsOpen)},
	}
	pdf.SetFont("Helvetica", "", 10)
	for i, row := range rows {
		fill := i%2 == 0
		pdf.SetFillColor(246, 248, 250)
		pdf.CellFormat(120, 7, row[0], "", 0, "L", fill, 0, "")
		pdf.CellFormat(40, 7, row[1], "", 1, "R", fill, 0, "")
	}
	pdf.Ln(6)

	r.chart(r.label("chart_by_domain"), data.countByDomain(), nil)

	severityRows := data.countBySeverity()
	localized := make([]labeledCount, len(severityRows))
	colors := make(map[string]color.NRGBA, len(severityRows))
	for i, row := range severityRows {
		loc := i18n.T(r.lang, "label.severity."+row.Label)
		localized[i] = labeledCount{Label: loc, Count: row.Count}
		colors[loc] = severityColors[row.Label]
	}
	r.chart(r.label("chart_by_severity"), localized, func(label string) color.NRGBA {
		if c, ok := colors[label]; ok {
			return c
		}
		return chartBarColor
	})
}

// chart renders one bar chart PNG and places it, or the localized "none"
// line when there is nothing to plot.
func (r *renderer) chart(title string, rows []labeledCount, colorFor func(string) color.NRGBA) {
	pdf := r.pdf
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)

	png, err := renderBarChart(rows, colorFor)
	if err != nil {
		pdf.SetError(err)
		return
	}
	if png == nil {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, r.label("none"), "", 1, "L", false, 0, "")
		pdf.Ln(4)
		return
	}

	r.imageSeq++
	name := fmt.Sprintf("chart-%d", r.imageSeq)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	// Half the raster size keeps the 2x sharpness.
	widthMM := contentWidth
	heightMM := widthMM * float64(chartPadding*2+chartRowH*len(rows)) / float64(chartWidth)
	pdf.ImageOptions(name, pageMargin, pdf.GetY(), widthMM, heightMM, false, opts, 0, "")
	pdf.SetY(pdf.GetY() + heightMM + 6)
}

func (r *renderer) findings(data *Data) {
	pdf := r.pdf
	pdf.AddPage()
	r.heading(r.label("findings"))

	if len(data.Findings) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, r.label("none"), "", 1, "L", false, 0, "")
		return
	}

	for _, block := range data.Findings {
		r.findingBlock(data, block)
	}
}

func (r *renderer) findingBlock(data *Data, block FindingBlock) {
	pdf := r.pdf
	f := block.Finding

	// Keep the header and first lines together.
	if pdf.GetY() > 240 {
		pdf.AddPage()
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(233, 239, 248)
	header := f.Reference + "  -  " + i18n.T(r.lang, "label.finding_kind."+f.Kind)
	if f.Severity != "" {
		header += " (" + i18n.T(r.lang, "label.severity."+f.Severity) + ")"
	}
	pdf.CellFormat(0, 8, r.tr(header), "", 1, "L", true, 0, "")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, r.tr(f.Title), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	meta := r.label("finding_status") + ": " + i18n.T(r.lang, "label.finding_status."+f.Status)
	if f.DomainCode != "" {
		name := f.DomainCode
		if n, ok := data.DomainNames[f.DomainCode]; ok && n != "" {
			name = n
		}
		meta += "   " + r.label("domain") + ": " + name
	}
	pdf.SetTextColor(110, 118, 129)
	pdf.CellFormat(0, 5, r.tr(meta), "", 1, "L", false, 0, "")
	pdf.SetTextColor(36, 41, 47)

	if f.Description != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(contentWidth, 5, r.tr(f.Description), "", "L", false)
	}

	if keys := evidenceList(f); len(keys) > 0 {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 5, r.label("finding_evidence")+": "+r.tr(strings.Join(keys, ", ")), "", 1, "L", false, 0, "")
	}

	if len(block.Actions) > 0 {
		r.actionTable(block)
	}
	pdf.Ln(4)
}

func (r *renderer) actionTable(block FindingBlock) {
	pdf := r.pdf
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(246, 248, 250)
	pdf.CellFormat(90, 6, r.label("action_description"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 6, r.label("action_owner"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(22, 6, r.label("action_due"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(28, 6, r.label("action_status"), "1", 1, "L", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, a := range block.Actions {
		owner := block.OwnerNames[a.OwnerID.String()]
		due := ""
		if a.DueOn != nil {
			due = a.DueOn.Format("2006-01-02")
		}
		pdf.CellFormat(90, 6, r.tr(truncate(a.Description, 60)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, r.tr(truncate(owner, 26)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, due, "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 6, r.tr(i18n.T(r.lang, "label.action_status."+a.Status)), "1", 1, "L", false, 0, "")
	}
}

func (r *renderer) heading(text string) {
	r.pdf.SetFont("Helvetica", "B", 16)
	r.pdf.SetTextColor(36, 41, 47)
	r.pdf.CellFormat(0, 10, text, "", 1, "L", false, 0, "")
	r.pdf.Ln(2)
}

func (r *renderer) kv(key, value string) {
	pdf := r.pdf
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(45, 7, key, "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 7, r.tr(value), "", 1, "L", false, 0, "")
}

func evidenceList(f *types.Finding) []string {
	if len(f.Evidence) == 0 {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(f.Evidence, &keys); err != nil {
		return nil
	}
	return keys
}
