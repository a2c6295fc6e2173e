package getpinfo

// Recorder receives channel protocol events for metrics. Submit outcomes
// are "ok", "invalid_verb", "invalid_argument", "busy" and "no_space";
// fetch outcomes are "ok", "truncated", "foreign" and "empty_buffer".
type Recorder interface {
	RecordSubmit(outcome string)
	RecordFetch(outcome string)
	SetSlotOccupied(occupied bool)
	RecordOrphanReclaim()
}

type noopRecorder struct{}

func (noopRecorder) RecordSubmit(string)  {}
func (noopRecorder) RecordFetch(string)   {}
func (noopRecorder) SetSlotOccupied(bool) {}
func (noopRecorder) RecordOrphanReclaim() {}

// MultiRecorder fans protocol events out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordSubmit(outcome string) {
	for _, r := range m {
		r.RecordSubmit(outcome)
	}
}

func (m MultiRecorder) RecordFetch(outcome string) {
	for _, r := range m {
		r.RecordFetch(outcome)
	}
}

func (m MultiRecorder) SetSlotOccupied(occupied bool) {
	for _, r := range m {
		r.SetSlotOccupied(occupied)
	}
}

func (m MultiRecorder) RecordOrphanReclaim() {
	for _, r := range m {
		r.RecordOrphanReclaim()
	}
}
