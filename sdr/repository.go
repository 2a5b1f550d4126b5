package sdr

import (
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const messagesEnabled = 1 << 32

type entry struct {
	desc    Descriptor
	reading atomic.Pointer[Reading]
	// bits 0-15: assertion mask, 16-31: deassertion mask, 32: messages enabled
	enable atomic.Uint64
}

func packMask(m EventMask) uint64 {
	v := uint64(m.Assert) | uint64(m.Deassert)<<16
	if m.Messages {
		v |= messagesEnabled
	}
	return v
}

func unpackMask(v uint64) EventMask {
	return EventMask{
		Messages: v&messagesEnabled != 0,
		Assert:   uint16(v),
		Deassert: uint16(v >> 16),
	}
}

func (e *entry) record() Record {
	return Record{Descriptor: e.desc, Reading: *e.reading.Load()}
}

// Repository is the fixed sensor table. The set of sensors never changes after
// New; readings and event-enable masks are updated atomically per sensor.
type Repository struct {
	entries     []*entry
	index       map[uint8]int
	emitter     Emitter
	reservation atomic.Uint32
	now         func() time.Time
}

// New builds the repository from a descriptor list. Every reading starts unavailable
// and event messages start enabled with the descriptor's mask.
func New(descs []Descriptor, emitter Emitter) (*Repository, error) {
	r := &Repository{
		entries: make([]*entry, 0, len(descs)),
		index:   make(map[uint8]int, len(descs)),
		emitter: emitter,
		now:     time.Now,
	}
	for _, d := range descs {
		if _, dup := r.index[d.ID]; dup {
			return nil, fmt.Errorf("sensor %d (%s): %w", d.ID, d.Name, ErrDuplicateSensor)
		}
		e := &entry{desc: d}
		e.reading.Store(&Reading{})
		e.enable.Store(packMask(EventMask{Messages: true, Assert: d.EventEnable, Deassert: d.DeassertEnable}))
		r.index[d.ID] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

func (r *Repository) lookup(id uint8) (*entry, error) {
	i, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("sensor %d: %w", id, ErrUnknownSensor)
	}
	return r.entries[i], nil
}

// Len returns the number of sensors.
func (r *Repository) Len() int { return len(r.entries) }

// FindByID returns a snapshot of a sensor record.
func (r *Repository) FindByID(id uint8) (Record, bool) {
	e, err := r.lookup(id)
	if err != nil {
		return Record{}, false
	}
	return e.record(), true
}

// FindByOwner yields a snapshot of every sensor owned by entity, in table order.
// The sequence can be ranged over any number of times.
func (r *Repository) FindByOwner(entity string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, e := range r.entries {
			if e.desc.Owner != entity {
				continue
			}
			if !yield(e.record()) {
				return
			}
		}
	}
}

// All yields every sensor in table order.
func (r *Repository) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, e := range r.entries {
			if !yield(e.record()) {
				return
			}
		}
	}
}

// UpdateReading stores a new raw value. For threshold sensors the threshold status is
// recomputed and one event is emitted per status bit that changed: deassertions
// first, most severe first, then assertions, least severe first. An unavailable
// previous reading counts as no thresholds crossed.
func (r *Repository) UpdateReading(id uint8, value uint16) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	next := &Reading{Value: value, Valid: true, Timestamp: r.now()}
	if e.desc.Kind == Threshold {
		next.Status = e.desc.Thresholds.Status(value)
	}
	prev := e.reading.Swap(next)
	if e.desc.Kind != Threshold {
		return nil
	}

	var was ThresholdStatus
	if prev.Valid {
		was = prev.Status
	}
	cleared := was &^ next.Status
	raised := next.Status &^ was
	for i := len(thresholdOffsets) - 1; i >= 0; i-- {
		if t := thresholdOffsets[i]; cleared&t.bit != 0 {
			r.emit(e, t.offset, false, next)
		}
	}
	for _, t := range thresholdOffsets {
		if raised&t.bit != 0 {
			r.emit(e, t.offset, true, next)
		}
	}
	return nil
}

// PostDiscreteEvent sets a discrete sensor's state to the single offset and emits an
// assertion event if that offset is enabled.
func (r *Repository) PostDiscreteEvent(id uint8, offset uint8) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if offset > 15 {
		return fmt.Errorf("sensor %d: offset %d out of range", id, offset)
	}
	next := &Reading{Value: 1 << offset, Valid: true, Timestamp: r.now()}
	e.reading.Store(next)
	r.emit(e, offset, true, next)
	return nil
}

func (r *Repository) emit(e *entry, offset uint8, assertion bool, rd *Reading) {
	if r.emitter == nil {
		return
	}
	m := unpackMask(e.enable.Load())
	enabled := m.Assert
	if !assertion {
		enabled = m.Deassert
	}
	if !m.Messages || enabled&(1<<offset) == 0 {
		return
	}
	r.emitter.EmitSensorEvent(Event{
		ID:        uuid.NewString(),
		SensorID:  e.desc.ID,
		Sensor:    e.desc.Name,
		Owner:     e.desc.Owner,
		Kind:      e.desc.Kind,
		Type:      e.desc.SensorType,
		Offset:    offset,
		Assertion: assertion,
		Value:     rd.Value,
		Status:    rd.Status,
		Timestamp: rd.Timestamp,
	})
}

// Invalidate marks a sensor's reading unavailable.
func (r *Repository) Invalidate(id uint8) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.reading.Store(&Reading{Timestamp: r.now()})
	return nil
}

// InvalidateOwner marks every threshold reading owned by entity unavailable.
// Discrete sensors keep their last state.
func (r *Repository) InvalidateOwner(entity string) {
	ts := r.now()
	for _, e := range r.entries {
		if e.desc.Owner == entity && e.desc.Kind == Threshold {
			e.reading.Store(&Reading{Timestamp: ts})
		}
	}
}

// SetEventEnable replaces a sensor's event-message flag and enable masks.
func (r *Repository) SetEventEnable(id uint8, m EventMask) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.enable.Store(packMask(m))
	return nil
}

// EventEnable returns a sensor's event-message flag and enable masks.
func (r *Repository) EventEnable(id uint8) (EventMask, error) {
	e, err := r.lookup(id)
	if err != nil {
		return EventMask{}, err
	}
	return unpackMask(e.enable.Load()), nil
}

// Reserve returns a new SDR repository reservation id. Zero is never returned.
func (r *Repository) Reserve() uint16 {
	for {
		if id := uint16(r.reservation.Add(1)); id != 0 {
			return id
		}
	}
}
