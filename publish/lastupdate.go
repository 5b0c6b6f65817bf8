package publish

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

// UptimeFormat selects the time since start instead of a wall clock time.
const UptimeFormat = "uptime"

// LastUpdate formats the time of the most recent reading.
type LastUpdate struct {
	start time.Time
	f     *strftime.Strftime
}

// NewLastUpdate parses a strftime pattern such as "%Y-%m-%d %H:%M:%S". The
// pattern "uptime" renders the time elapsed since start as "Uptime: HH:MM:SS".
func NewLastUpdate(pattern string, start time.Time) (*LastUpdate, error) {
	lu := &LastUpdate{start: start}
	if pattern == UptimeFormat {
		return lu, nil
	}

	f, err := strftime.New(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "timestamp format %q", pattern)
	}
	lu.f = f

	return lu, nil
}

func (lu *LastUpdate) Format(at time.Time) string {
	if lu.f != nil {
		return lu.f.FormatString(at)
	}

	secs := int64(at.Sub(lu.start) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("Uptime: %02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
