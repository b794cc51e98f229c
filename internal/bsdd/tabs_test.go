package bsdd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

func sentForm() Form {
	return Form{
		ID:                      "form-1",
		ReadableID:              "BSD-20260830-AAAA11111",
		Status:                  StatusSent,
		EmitterCompanySiret:     producerSiret,
		RecipientCompanySiret:   destinationSiret,
		TransporterCompanySiret: transporterSiret,
		CurrentTransporterSiret: transporterSiret,
	}
}

func TestTabsSealed(t *testing.T) {
	f := sentForm()
	f.Status = StatusSealed

	tabs := SiretsByTab(&f)
	require.Contains(t, tabs[bsd.TabForAction], producerSiret)
	require.Contains(t, tabs[bsd.TabToCollect], transporterSiret)
	require.Contains(t, tabs[bsd.TabFollow], destinationSiret)
}

func TestTabsSentDestinationActs(t *testing.T) {
	f := sentForm()

	tabs := SiretsByTab(&f)
	require.Contains(t, tabs[bsd.TabForAction], destinationSiret)
	require.Contains(t, tabs[bsd.TabCollected], transporterSiret)
	require.Contains(t, tabs[bsd.TabFollow], producerSiret)
}

func TestTabsDraftOverridesEverything(t *testing.T) {
	f := sentForm()
	f.Status = StatusDraft

	tabs := SiretsByTab(&f)
	for _, siret := range []string{producerSiret, transporterSiret, destinationSiret} {
		require.Contains(t, tabs[bsd.TabDraft], siret)
	}
}

func TestTabsArchivedStatuses(t *testing.T) {
	for _, status := range []bsd.Status{StatusProcessed, StatusRefused, StatusNoTraceability, StatusAwaitingGroup} {
		f := sentForm()
		f.Status = status
		tabs := SiretsByTab(&f)
		require.Contains(t, tabs[bsd.TabArchived], producerSiret, "status %s", status)
		require.Contains(t, tabs[bsd.TabArchived], destinationSiret, "status %s", status)
	}
}

func TestTabsSegmentTakeOver(t *testing.T) {
	f := sentForm()
	f.Segments = []TransportSegment{
		{ID: "seg-1", FormID: f.ID, SegmentNumber: 1, TransporterCompanySiret: nextCarrierSiret, ReadyToTakeOver: true},
	}

	tabs := SiretsByTab(&f)
	require.Contains(t, tabs[bsd.TabToCollect], nextCarrierSiret)
	require.Contains(t, tabs[bsd.TabCollected], transporterSiret,
		"the initial transporter holds the waste until the segment takes over")

	f.Segments[0].TakenOverAt = time.Now()
	tabs = SiretsByTab(&f)
	require.Contains(t, tabs[bsd.TabCollected], nextCarrierSiret)
	require.NotContains(t, tabs[bsd.TabCollected], transporterSiret)
	require.Contains(t, tabs[bsd.TabFollow], transporterSiret)
}

func TestForwardingSupersedesPredecessor(t *testing.T) {
	suite := Form{
		ID:                      "suite-1",
		Status:                  StatusSent,
		EmitterCompanySiret:     storageSiret,
		RecipientCompanySiret:   destinationSiret,
		TransporterCompanySiret: nextCarrierSiret,
	}
	f := sentForm()
	f.Status = StatusResent
	f.RecipientCompanySiret = storageSiret
	f.RecipientIsTempStorage = true
	f.ForwardedInID = suite.ID
	f.ForwardedIn = &suite

	doc := ToIndexDocument(&f)
	require.True(t, doc.Tabs.IsEmpty(), "the re-shipped predecessor leaves every dashboard tab")
	require.NotEmpty(t, doc.Sirets, "contributors keep read access to the predecessor")
	require.Contains(t, doc.Sirets, producerSiret)

	liveDoc := ToIndexDocument(&suite)
	require.False(t, liveDoc.Tabs.IsEmpty(), "the forwarding document carries the live classification")
	require.Contains(t, liveDoc.Tabs[bsd.TabForAction], destinationSiret)
}

func TestIndexDocumentDestinationSwitchesToSuite(t *testing.T) {
	f := sentForm()
	f.RecipientCompanySiret = storageSiret
	f.RecipientCompanyName = "Entreposage"
	f.RecipientIsTempStorage = true
	f.ForwardedIn = &Form{
		ID:                    "suite-1",
		RecipientCompanyName:  "Traitement SA",
		RecipientCompanySiret: destinationSiret,
		EmittedAt:             time.Now(),
	}

	doc := ToIndexDocument(&f)
	require.Equal(t, destinationSiret, doc.DestinationCompanySiret,
		"once the suite is emitted the final destination is displayed")
	require.Equal(t, "Traitement SA", doc.DestinationCompanyName)
}

func TestTabsIntermediariesAlwaysFollow(t *testing.T) {
	f := sentForm()
	f.Intermediaries = []Intermediary{{Siret: "66666666666666", Name: "Courtier"}}

	tabs := SiretsByTab(&f)
	require.Contains(t, tabs[bsd.TabFollow], "66666666666666")

	f.Status = StatusProcessed
	tabs = SiretsByTab(&f)
	require.Contains(t, tabs[bsd.TabArchived], "66666666666666")
}
