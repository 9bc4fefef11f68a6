package model

// RenderJob is one pending stem render.
type RenderJob struct {
	MetadataPath string  // metadata.yaml of the owning track
	TrackDir     string
	StemKey      string
	Duration     float64 // seconds, end time plus TailPadding
}

// Manifest groups render jobs by patch. Patches and jobs keep insertion order
// so that a run is reproducible for a given seed.
type Manifest struct {
	order   []string
	buckets map[string][]RenderJob
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{buckets: make(map[string][]RenderJob)}
}

// Add appends a job to the bucket of patch.
func (m *Manifest) Add(patch string, job RenderJob) {
	if m.buckets == nil {
		m.buckets = make(map[string][]RenderJob)
	}
	if _, ok := m.buckets[patch]; !ok {
		m.order = append(m.order, patch)
	}
	m.buckets[patch] = append(m.buckets[patch], job)
}

// Patches returns the patch identifiers in first-seen order.
func (m *Manifest) Patches() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Jobs returns the jobs queued for patch.
func (m *Manifest) Jobs(patch string) []RenderJob {
	return m.buckets[patch]
}

// Len is the total number of jobs across buckets.
func (m *Manifest) Len() int {
	n := 0
	for _, jobs := range m.buckets {
		n += len(jobs)
	}
	return n
}

// Merge appends every bucket of other into m.
func (m *Manifest) Merge(other *Manifest) {
	if other == nil {
		return
	}
	for _, p := range other.order {
		for _, j := range other.buckets[p] {
			m.Add(p, j)
		}
	}
}
