package driver

import (
	"fmt"
	"time"
)

var timestampLayouts = []string{ // nolint:gochecknoglobals
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timestamp scans installed_on whether the driver hands back a time.Time
// or text, as MySQL does without parseTime.
type timestamp time.Time

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = timestamp{}
		return nil
	case time.Time:
		*t = timestamp(v)
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}

	return fmt.Errorf("cannot scan %T into a timestamp", src)
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = timestamp(parsed)
			return nil
		}
	}

	return fmt.Errorf("unrecognized timestamp %q", s)
}
