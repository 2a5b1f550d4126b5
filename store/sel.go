package store

import "time"

// SELEntry is one row of the system event log.
type SELEntry struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	SensorID   int       `json:"sensor_id"`
	SensorName string    `json:"sensor_name"`
	Owner      string    `json:"owner"`
	SensorType int       `json:"sensor_type"`
	Offset     int       `json:"offset"`
	Assertion  bool      `json:"assertion"`
	Value      int       `json:"value"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// AppendSEL records a sensor event, stamped with e.CreatedAt or the current
// time. Re-recording the same event id is a no-op.
func (db *DB) AppendSEL(e *SELEntry) error {
	_, err := db.Exec(db.Q(`INSERT INTO sel (event_id, sensor_id, sensor_name, owner, sensor_type, event_offset, assertion, value, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING`),
		e.EventID, e.SensorID, e.SensorName, e.Owner, e.SensorType, e.Offset, e.Assertion, e.Value, e.Status, db.stamp(e.CreatedAt))
	return err
}

const selColumns = `id, event_id, sensor_id, sensor_name, owner, sensor_type, event_offset, assertion, value, status, created_at`

// ListSEL returns the newest entries first.
func (db *DB) ListSEL(limit int) ([]*SELEntry, error) {
	return db.querySEL(db.Q(`SELECT `+selColumns+` FROM sel ORDER BY id DESC LIMIT ?`), limit)
}

// ListSensorSEL returns the newest entries for one sensor first.
func (db *DB) ListSensorSEL(sensorID int, limit int) ([]*SELEntry, error) {
	return db.querySEL(db.Q(`SELECT `+selColumns+` FROM sel WHERE sensor_id=? ORDER BY id DESC LIMIT ?`), sensorID, limit)
}

// ClearSEL deletes every entry and returns how many were removed.
func (db *DB) ClearSEL() (int64, error) {
	res, err := db.Exec(`DELETE FROM sel`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) querySEL(query string, args ...any) ([]*SELEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*SELEntry
	for rows.Next() {
		var e SELEntry
		var createdAt any
		if err := rows.Scan(&e.ID, &e.EventID, &e.SensorID, &e.SensorName, &e.Owner, &e.SensorType,
			&e.Offset, &e.Assertion, &e.Value, &e.Status, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = scanTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
