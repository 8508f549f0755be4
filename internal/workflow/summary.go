package workflow

import "time"

// Summary reports what one cycle did.
type Summary struct {
	CycleID      string        `json:"cycle_id"`
	Trigger      string        `json:"trigger"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	VolumeAbsent bool          `json:"volume_absent,omitempty"`
	// Interrupted is set when shutdown stopped the cycle early.
	Interrupted   bool `json:"interrupted,omitempty"`
	Scanned       int  `json:"scanned"`
	Ingested      int  `json:"ingested"`
	Skipped       int  `json:"skipped"`
	DeleteRetried int  `json:"delete_retried"`
	Processed     int  `json:"processed"`
	Failed        int  `json:"failed"`
}

// HasFailures reports whether any file failed during the cycle.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}
