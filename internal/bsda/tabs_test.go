package bsda

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

func classified(b Bsda) bsd.Classification {
	return SiretsByTab(&b)
}

func standardBsda(status bsd.Status) Bsda {
	return Bsda{
		ID:                      "BSDA-1",
		Status:                  status,
		Type:                    TypeOtherCollections,
		EmitterCompanySiret:     emitterSiret,
		WorkerCompanySiret:      workerSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: destinationSiret,
	}
}

func TestTabsInitialEmitterActs(t *testing.T) {
	tabs := classified(standardBsda(StatusInitial))
	require.Contains(t, tabs[bsd.TabForAction], emitterSiret)
	require.Contains(t, tabs[bsd.TabFollow], workerSiret)
	require.Contains(t, tabs[bsd.TabFollow], destinationSiret)
}

func TestTabsDraft(t *testing.T) {
	b := standardBsda(StatusInitial)
	b.IsDraft = true
	tabs := classified(b)
	require.Contains(t, tabs[bsd.TabDraft], emitterSiret)
	require.Empty(t, tabs[bsd.TabForAction])
}

func TestTabsCollection2710(t *testing.T) {
	b := standardBsda(StatusInitial)
	b.Type = TypeCollection2710
	b.WorkerCompanySiret = ""
	b.TransporterCompanySiret = ""
	tabs := classified(b)
	require.Contains(t, tabs[bsd.TabForAction], destinationSiret,
		"the collection centre acts directly")
	require.Contains(t, tabs[bsd.TabFollow], emitterSiret)
}

func TestTabsPrivateIndividualWorkerActs(t *testing.T) {
	b := standardBsda(StatusInitial)
	b.EmitterIsPrivateIndividual = true
	b.EmitterCompanySiret = ""
	tabs := classified(b)
	require.Contains(t, tabs[bsd.TabForAction], workerSiret)
}

func TestTabsPaperSignatureSkipsEmitter(t *testing.T) {
	b := standardBsda(StatusInitial)
	b.EmitterPaperSignature = true
	tabs := classified(b)
	require.Contains(t, tabs[bsd.TabForAction], workerSiret)
	require.Contains(t, tabs[bsd.TabFollow], emitterSiret)
}

func TestTabsDisabledWorkerTransporterCollects(t *testing.T) {
	b := standardBsda(StatusSignedByProducer)
	b.WorkerIsDisabled = true
	tabs := classified(b)
	require.Contains(t, tabs[bsd.TabToCollect], transporterSiret)
	require.Contains(t, tabs[bsd.TabFollow], workerSiret)
}

func TestTabsSentAndArchived(t *testing.T) {
	tabs := classified(standardBsda(StatusSent))
	require.Contains(t, tabs[bsd.TabForAction], destinationSiret)
	require.Contains(t, tabs[bsd.TabCollected], transporterSiret)

	tabs = classified(standardBsda(StatusProcessed))
	for _, siret := range []string{emitterSiret, workerSiret, transporterSiret, destinationSiret} {
		require.Contains(t, tabs[bsd.TabArchived], siret)
	}
}

func TestTabsAwaitingChildFollows(t *testing.T) {
	tabs := classified(standardBsda(StatusAwaitingChild))
	require.Contains(t, tabs[bsd.TabFollow], destinationSiret)
	require.Empty(t, tabs[bsd.TabArchived])
}
