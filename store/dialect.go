package store

import (
	"strconv"
	"strings"
	"time"
)

// sqliteLayout is how timestamps are stored in sqlite TEXT columns. It sorts
// lexically in time order.
const sqliteLayout = "2006-01-02T15:04:05.000000000Z"

// stamp returns t in the form the driver stores. A zero t means now.
func (db *DB) stamp(t time.Time) any {
	if t.IsZero() {
		t = db.now()
	}
	t = t.UTC()
	if db.driver == driverSQLite {
		return t.Format(sqliteLayout)
	}
	return t
}

// scanTime converts a scanned timestamp column. sqlite yields strings,
// pgx yields time.Time. Anything unreadable becomes the zero time.
func scanTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case []byte:
		return scanTime(string(t))
	case string:
		for _, layout := range []string{sqliteLayout, time.RFC3339Nano, time.DateTime} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

func scanTimePtr(v any) *time.Time {
	if t := scanTime(v); !t.IsZero() {
		return &t
	}
	return nil
}

// Rebind rewrites ? placeholders to $1, $2, ... Question marks inside
// single-quoted literals are left alone.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n, quoted := 0, false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
