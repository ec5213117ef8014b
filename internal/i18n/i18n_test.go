package i18n

import (
	"strings"
	"testing"

	"github.com/skyassure/peerreview-backend/internal/domain/notify"
)

func TestCatalogParity(t *testing.T) {
	t.Parallel()

	en := Keys("en")
	fr := Keys("fr")
	if len(en) == 0 {
		t.Fatalf("english catalog empty")
	}

	frSet := make(map[string]bool, len(fr))
	for _, k := range fr {
		frSet[k] = true
	}
	for _, k := range en {
		if !frSet[k] {
			t.Errorf("key %q missing from french catalog", k)
		}
	}
	enSet := make(map[string]bool, len(en))
	for _, k := range en {
		enSet[k] = true
	}
	for _, k := range fr {
		if !enSet[k] {
			t.Errorf("key %q present in french but missing from english", k)
		}
	}
}

func TestEveryNotificationKindHasMessages(t *testing.T) {
	t.Parallel()

	kinds := []string{
		notify.KindOrgActivated,
		notify.KindOrgStatusChanged,
		notify.KindMemberInvited,
		notify.KindReviewScheduled,
		notify.KindReviewPhase,
		notify.KindTeamInvitation,
		notify.KindInvitationResponse,
		notify.KindFindingRecorded,
		notify.KindActionProposed,
		notify.KindActionStatus,
		notify.KindActionDueSoon,
		notify.KindActionOverdue,
		notify.KindActionVerify,
		notify.KindAssessmentSubmitted,
		notify.KindAssessmentReopen,
		notify.KindReportReady,
	}
	for _, kind := range kinds {
		for _, suffix := range []string{".title", ".body"} {
			key := "notify." + kind + suffix
			if !Has("en", key) {
				t.Errorf("english catalog missing %q", key)
			}
			if !Has("fr", key) {
				t.Errorf("french catalog missing %q", key)
			}
		}
	}
}

func TestT(t *testing.T) {
	t.Parallel()

	got := T("en", "notify.review_phase_changed.body", "REV-2025-004", "Fieldwork")
	if !strings.Contains(got, "REV-2025-004") || !strings.Contains(got, "Fieldwork") {
		t.Fatalf("formatted message missing args: got=%q", got)
	}

	fr := T("fr", "label.finding_kind.good_practice")
	if fr != "Bonne pratique" {
		t.Fatalf("french lookup: got=%q want=%q", fr, "Bonne pratique")
	}

	// Unsupported locales normalize to English.
	de := T("de-DE", "label.finding_kind.good_practice")
	if de != "Good practice" {
		t.Fatalf("fallback locale: got=%q want=%q", de, "Good practice")
	}

	if got := T("en", "no.such.key"); got != "no.such.key" {
		t.Fatalf("unknown key should echo the key: got=%q", got)
	}
}

func TestRegionalFrenchResolves(t *testing.T) {
	t.Parallel()
	if got := T("fr-CA", "report.title"); got != "Rapport d'évaluation par les pairs" {
		t.Fatalf("fr-CA lookup: got=%q", got)
	}
}
