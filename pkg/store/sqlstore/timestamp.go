package sqlstore

import (
	"time"

	"github.com/pkg/errors"
)

// timeLayouts lists the formats drivers hand back for timestamp columns stored as text.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// Timestamp scans whatever representation a driver uses for a timestamp column: time.Time,
// text in one of the common layouts, or unix seconds. The result is always in UTC.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		ts.Time = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case int64:
		ts.Time = time.Unix(v, 0).UTC()
		return nil
	case nil:
		return errors.New("timestamp is NULL")
	default:
		return errors.Errorf("unsupported timestamp type %T", src)
	}
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}

	return errors.Errorf("unsupported time format: %q", s)
}
