package usage

import (
	"time"

	"github.com/google/uuid"
)

// normalize fills the ID, timestamp and millisecond duration of r.
func normalize(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.DurationMS = r.Duration.Milliseconds()
	return r
}
