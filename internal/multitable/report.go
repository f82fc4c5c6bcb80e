package multitable

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedbacketl/internal/metrics"
)

// Report summarizes one run. Counts stay zero for phases that did not run.
type Report struct {
	RunID string

	ResetFailed bool

	// Dimension rows inserted per table name.
	Dimensions map[string]int64

	// Consolidated rows read per source id, and in total.
	PerSource    map[string]int
	Consolidated int

	Valid            int
	DroppedIntegrity int
	Duplicates       int
	Inserted         int64

	Duration time.Duration
}

func newReport() *Report {
	return &Report{
		RunID:      uuid.NewString(),
		Dimensions: map[string]int64{},
		PerSource:  map[string]int{},
	}
}

// publish pushes the opinion counts to the metrics backend.
func (r *Report) publish() {
	metrics.RecordRecords("consolidated", r.Consolidated)
	metrics.RecordRecords("valid", r.Valid)
	metrics.RecordRecords("dropped_integrity", r.DroppedIntegrity)
	metrics.RecordRecords("duplicates", r.Duplicates)
	metrics.RecordRecords("inserted", int(r.Inserted))
}

// String renders the report as a single key=value line.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run_id=%s", r.RunID)
	for _, t := range sortedKeys(r.Dimensions) {
		fmt.Fprintf(&b, " %s=%d", t, r.Dimensions[t])
	}
	fmt.Fprintf(&b, " consolidated=%d valid=%d dropped_integrity=%d duplicates=%d inserted=%d",
		r.Consolidated, r.Valid, r.DroppedIntegrity, r.Duplicates, r.Inserted)
	if r.ResetFailed {
		b.WriteString(" reset_failed=true")
	}
	fmt.Fprintf(&b, " duration=%s", r.Duration.Truncate(time.Millisecond))
	return b.String()
}
