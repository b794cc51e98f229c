package bsd

// Field pairs an actor slot with the SIRET (or VAT number) filling it.
type Field struct {
	Key   ActorField
	Siret string
}

// Classification maps each dashboard tab to the SIRETs that see the document
// there. Every present actor lands in exactly one tab.
type Classification map[Tab][]string

// Sirets returns the union of all tab lists. The index uses it for
// access-control filtering at query time.
func (c Classification) Sirets() []string {
	var out []string
	for _, tab := range Tabs() {
		out = append(out, c[tab]...)
	}
	return out
}

// IsEmpty reports whether no tab carries any SIRET.
func (c Classification) IsEmpty() bool {
	for _, sirets := range c {
		if len(sirets) > 0 {
			return false
		}
	}
	return true
}

// Empty returns a classification with all six tabs empty. Superseded
// forwarding predecessors project this so they vanish from every dashboard.
func Empty() Classification {
	c := make(Classification, 6)
	for _, tab := range Tabs() {
		c[tab] = []string{}
	}
	return c
}

// FieldSet tracks, per actor field, which tab the actor currently lands in.
// Fields keep their insertion order so classifications are deterministic.
type FieldSet struct {
	order  []ActorField
	sirets map[ActorField]string
	tabs   map[ActorField]Tab
}

// NewFieldSet seeds a field set from the actors present on a document. Empty
// SIRETs are skipped; every present actor defaults to the follow tab.
func NewFieldSet(fields []Field) *FieldSet {
	fs := &FieldSet{
		sirets: make(map[ActorField]string, len(fields)),
		tabs:   make(map[ActorField]Tab, len(fields)),
	}
	for _, f := range fields {
		if f.Siret == "" {
			continue
		}
		if _, seen := fs.sirets[f.Key]; seen {
			continue
		}
		fs.order = append(fs.order, f.Key)
		fs.sirets[f.Key] = f.Siret
		fs.tabs[f.Key] = TabFollow
	}
	return fs
}

// Set reassigns one field to a tab. Absent fields are ignored so override
// tables can mention fields the document does not carry.
func (fs *FieldSet) Set(key ActorField, tab Tab) {
	if _, ok := fs.tabs[key]; !ok {
		return
	}
	fs.tabs[key] = tab
}

// SetAll reassigns every present field to the same tab.
func (fs *FieldSet) SetAll(tab Tab) {
	for _, key := range fs.order {
		fs.tabs[key] = tab
	}
}

// Has reports whether the field carries a SIRET.
func (fs *FieldSet) Has(key ActorField) bool {
	_, ok := fs.sirets[key]
	return ok
}

// Classification materializes the current assignment.
func (fs *FieldSet) Classification() Classification {
	c := Empty()
	for _, key := range fs.order {
		tab := fs.tabs[key]
		c[tab] = append(c[tab], fs.sirets[key])
	}
	return c
}

// ClassifierConfig parameterizes the shared classifier for one document type.
type ClassifierConfig struct {
	// Overrides is the authoritative "whose turn is it" table, keyed by
	// status then actor field.
	Overrides map[Status]map[ActorField]Tab
	// Archived lists the statuses that send every present actor to the
	// archive tab, superseding Overrides.
	Archived map[Status]bool
	// Hook runs after the override table and before the archive pass. Types
	// plug their divergent edge cases here (multimodal segments, worker
	// branches, packaging aggregation).
	Hook func(fs *FieldSet)
}

// Classify runs the shared classification algorithm: default everyone to
// follow, short-circuit drafts, apply the status override table, run the
// per-type hook, then archive terminal statuses.
func Classify(fields []Field, status Status, isDraft bool, cfg ClassifierConfig) Classification {
	fs := NewFieldSet(fields)
	if isDraft {
		fs.SetAll(TabDraft)
		return fs.Classification()
	}
	for field, tab := range cfg.Overrides[status] {
		fs.Set(field, tab)
	}
	if cfg.Hook != nil {
		cfg.Hook(fs)
	}
	if cfg.Archived[status] {
		fs.SetAll(TabArchived)
	}
	return fs.Classification()
}
