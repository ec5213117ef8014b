// Package reports renders the final peer-review report: bar charts drawn
// with gg, assembled into a PDF with fpdf and localized from the programme
// message catalog. The package is pure rendering; loading the data and
// storing the file belong to the report job handler.
package reports

import (
	"sort"
	"time"

	types "github.com/skyassure/peerreview-backend/internal/domain"
)

// TeamEntry pairs a seat with the person holding it.
type TeamEntry struct {
	Member *types.ReviewTeamMember
	User   *types.User
	Org    *types.Organization
}

// FindingBlock is one finding with its corrective actions and the resolved
// owner names for the CAP table.
type FindingBlock struct {
	Finding    *types.Finding
	Actions    []*types.CorrectiveAction
	OwnerNames map[string]string
}

// Data is everything the renderer needs, resolved ahead of time so rendering
// itself never touches the database.
type Data struct {
	Review      *types.PeerReview
	HostOrg     *types.Organization
	Team        []TeamEntry
	Findings    []FindingBlock
	DomainNames map[string]string
	Language    string
	GeneratedAt time.Time
}

// countByDomain tallies findings per domain code, sorted by count descending
// then code for stable chart rows.
func (d *Data) countByDomain() []labeledCount {
	counts := map[string]int{}
	for _, block := range d.Findings {
		code := block.Finding.DomainCode
		if code == "" {
			code = "-"
		}
		counts[code]++
	}
	return sortedCounts(counts, func(code string) string {
		if name, ok := d.DomainNames[code]; ok && name != "" {
			return name
		}
		return code
	})
}

// countBySeverity tallies non-conformities per severity in fixed
// minor/major/critical order.
func (d *Data) countBySeverity() []labeledCount {
	counts := map[string]int{}
	for _, block := range d.Findings {
		if block.Finding.Kind != types.FindingKindNonConformity {
			continue
		}
		counts[block.Finding.Severity]++
	}
	ordered := []string{types.SeverityMinor, types.SeverityMajor, types.SeverityCritical}
	out := make([]labeledCount, 0, len(ordered))
	for _, sev := range ordered {
		if counts[sev] == 0 {
			continue
		}
		out = append(out, labeledCount{Label: sev, Count: counts[sev]})
	}
	return out
}

func (d *Data) countByKind() map[string]int {
	counts := map[string]int{}
	for _, block := range d.Findings {
		counts[block.Finding.Kind]++
	}
	return counts
}

func (d *Data) actionCounts() (total, open int) {
	for _, block := range d.Findings {
		for _, a := range block.Actions {
			total++
			if a.Open() {
				open++
			}
		}
	}
	return total, open
}

type labeledCount struct {
	Label string
	Count int
}

func sortedCounts(counts map[string]int, label func(string) string) []labeledCount {
	out := make([]labeledCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, labeledCount{Label: label(code), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
