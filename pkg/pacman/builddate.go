package pacman

import (
	"fmt"
	"strconv"
	"time"
)

// BuildDate is a build timestamp, stored in the database as unix seconds.
// It marshals to JSON as RFC 3339.
type BuildDate struct {
	time.Time
}

// NewBuildDate returns the BuildDate for the given unix timestamp.
func NewBuildDate(sec int64) BuildDate {
	return BuildDate{time.Unix(sec, 0).UTC()}
}

func (d BuildDate) MarshalText() ([]byte, error) {
	return strconv.AppendInt(nil, d.Unix(), 10), nil
}

func (d *BuildDate) UnmarshalText(text []byte) error {
	sec, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid build date %q: not a unix timestamp", text)
	}
	*d = NewBuildDate(sec)
	return nil
}
