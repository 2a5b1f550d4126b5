package store

import "time"

// TransitionLog is one recorded payload state transition.
type TransitionLog struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Slot      int       `json:"slot"`
	Entity    string    `json:"entity"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Target    string    `json:"target"`
	Fault     string    `json:"fault"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertTransition stores t, stamped with t.CreatedAt or the current time.
func (db *DB) InsertTransition(t *TransitionLog) (int64, error) {
	return db.insert(`INSERT INTO transitions (event_id, slot, entity, from_state, to_state, target, fault, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.EventID, t.Slot, t.Entity, t.FromState, t.ToState, t.Target, t.Fault, db.stamp(t.CreatedAt))
}

// ListTransitions returns the newest transitions of a slot first. A negative slot lists all slots.
func (db *DB) ListTransitions(slot int, limit int) ([]*TransitionLog, error) {
	query := `SELECT id, event_id, slot, entity, from_state, to_state, target, fault, created_at FROM transitions`
	args := []any{}
	if slot >= 0 {
		query += ` WHERE slot=?`
		args = append(args, slot)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TransitionLog
	for rows.Next() {
		var t TransitionLog
		var createdAt any
		if err := rows.Scan(&t.ID, &t.EventID, &t.Slot, &t.Entity, &t.FromState, &t.ToState, &t.Target, &t.Fault, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = scanTime(createdAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CountFaults returns the number of fault transitions per slot.
func (db *DB) CountFaults() (map[int]int, error) {
	rows, err := db.Query(`SELECT slot, COUNT(*) FROM transitions WHERE fault <> '' GROUP BY slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int]int)
	for rows.Next() {
		var slot, n int
		if err := rows.Scan(&slot, &n); err != nil {
			return nil, err
		}
		out[slot] = n
	}
	return out, rows.Err()
}
