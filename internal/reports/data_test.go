package reports

import (
	"testing"

	types "github.com/skyassure/peerreview-backend/internal/domain"
)

func findingBlock(kind, severity, domainCode string, actions ...*types.CorrectiveAction) FindingBlock {
	return FindingBlock{
		Finding: &types.Finding{Kind: kind, Severity: severity, DomainCode: domainCode},
		Actions: actions,
	}
}

func TestCountByDomain(t *testing.T) {
	t.Parallel()
	d := &Data{
		Findings: []FindingBlock{
			findingBlock(types.FindingKindNonConformity, types.SeverityMinor, "OPS"),
			findingBlock(types.FindingKindObservation, "", "OPS"),
			findingBlock(types.FindingKindNonConformity, types.SeverityMajor, "TRG"),
			findingBlock(types.FindingKindGoodPractice, "", ""),
		},
		DomainNames: map[string]string{"OPS": "Operations", "TRG": "Training"},
	}

	rows := d.countByDomain()
	if len(rows) != 3 {
		t.Fatalf("rows: got=%d want=3", len(rows))
	}
	if rows[0].Label != "Operations" || rows[0].Count != 2 {
		t.Fatalf("rows[0]: got=%s/%d want=Operations/2", rows[0].Label, rows[0].Count)
	}
	// Equal counts fall back to label order; the blank code renders as "-".
	if rows[1].Label != "-" || rows[2].Label != "Training" {
		t.Fatalf("tie order: got=[%s %s] want=[- Training]", rows[1].Label, rows[2].Label)
	}
}

func TestCountBySeverityOnlyNonConformities(t *testing.T) {
	t.Parallel()
	d := &Data{
		Findings: []FindingBlock{
			findingBlock(types.FindingKindNonConformity, types.SeverityCritical, "OPS"),
			findingBlock(types.FindingKindNonConformity, types.SeverityMinor, "OPS"),
			findingBlock(types.FindingKindNonConformity, types.SeverityMinor, "TRG"),
			// Observations carry no severity and must not appear.
			findingBlock(types.FindingKindObservation, types.SeverityMajor, "OPS"),
		},
	}

	rows := d.countBySeverity()
	if len(rows) != 2 {
		t.Fatalf("rows: got=%d want=2", len(rows))
	}
	// Fixed minor/major/critical order regardless of counts.
	if rows[0].Label != types.SeverityMinor || rows[0].Count != 2 {
		t.Fatalf("rows[0]: got=%s/%d want=%s/2", rows[0].Label, rows[0].Count, types.SeverityMinor)
	}
	if rows[1].Label != types.SeverityCritical || rows[1].Count != 1 {
		t.Fatalf("rows[1]: got=%s/%d want=%s/1", rows[1].Label, rows[1].Count, types.SeverityCritical)
	}
}

func TestActionCounts(t *testing.T) {
	t.Parallel()
	d := &Data{
		Findings: []FindingBlock{
			findingBlock(types.FindingKindNonConformity, types.SeverityMinor, "OPS",
				&types.CorrectiveAction{Status: types.ActionProposed},
				&types.CorrectiveAction{Status: types.ActionClosed},
			),
			findingBlock(types.FindingKindObservation, "", "TRG",
				&types.CorrectiveAction{Status: types.ActionAccepted},
			),
		},
	}

	total, open := d.actionCounts()
	if total != 3 || open != 2 {
		t.Fatalf("actionCounts: got=%d/%d want total=3 open=2", total, open)
	}
}

func TestRenderProducesPDF(t *testing.T) {
	t.Parallel()
	d := &Data{
		Review: &types.PeerReview{Reference: "PR-2026-001"},
		HostOrg: &types.Organization{
			Name:    "Skyguard ANSP",
			Country: "CH",
		},
		Findings: []FindingBlock{
			findingBlock(types.FindingKindNonConformity, types.SeverityMajor, "OPS"),
		},
		Language: "en",
	}

	pdf, pages, err := Render(d)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if pages < 2 {
		t.Fatalf("pages: got=%d want>=2", pages)
	}
	if len(pdf) < 4 || string(pdf[:4]) != "%PDF" {
		t.Fatalf("output does not start with %%PDF header")
	}
}
