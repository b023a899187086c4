package engine

import "time"

// Report summarizes one reconciliation run.
type Report struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`

	// Failed counts items whose apply step errored; their mappings were
	// left untouched so the next run retries them.
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`

	// Skipped is set when a periodic trigger found the last full pass too
	// recent and did nothing.
	Skipped bool `json:"skipped"`

	// FullListing reports whether the calendar was enumerated completely
	// rather than through an incremental token.
	FullListing bool `json:"full_listing"`

	Duration time.Duration `json:"-"`
}

// Clean reports whether every applied item succeeded.
func (r Report) Clean() bool {
	return r.Failed == 0
}

func (r *Report) fail(label string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, label+": "+err.Error())
}
