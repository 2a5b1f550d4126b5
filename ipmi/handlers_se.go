package ipmi

import (
	"context"
	"fmt"

	"mmcd/sdr"
)

// Get Sensor Reading flag bits.
const (
	readingEventsEnabled = 0x80
	readingScanning      = 0x40
	readingUnavailable   = 0x20
)

// Set Sensor Event Enable actions (request byte 1, bits 5:4).
const (
	eventActionNone    = 0x00
	eventActionEnable  = 0x10
	eventActionDisable = 0x20
)

func (s *Service) setEventReceiver(_ context.Context, req Request) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiverAddr = req.Data[0]
	s.receiverLUN = req.Data[1] & 0x03
	return nil, nil
}

func (s *Service) getEventReceiver(_ context.Context, _ Request) ([]byte, error) {
	addr, lun, _ := s.EventReceiver()
	return []byte{addr, lun}, nil
}

func (s *Service) getDeviceSDRInfo(_ context.Context, req Request) ([]byte, error) {
	count := s.sensors.Len()
	if len(req.Data) > 0 && req.Data[0]&0x01 != 0 {
		// SDR count includes the management controller locator record.
		count++
	}
	if count > 0xFF {
		count = 0xFF
	}
	// static population, LUN 0 has sensors
	return []byte{byte(count), 0x01}, nil
}

func (s *Service) reserveDeviceSDR(_ context.Context, _ Request) ([]byte, error) {
	id := s.sensors.Reserve()
	return []byte{byte(id), byte(id >> 8)}, nil
}

func (s *Service) setSensorEventEnable(_ context.Context, req Request) ([]byte, error) {
	id := req.Data[0]
	flags := req.Data[1]

	m, err := s.sensors.EventEnable(id)
	if err != nil {
		return nil, err
	}
	// bytes 2-3 select assertion offsets, 4-5 deassertion offsets
	var sel [4]byte
	copy(sel[:], req.Data[2:])
	assert := uint16(sel[0]) | uint16(sel[1])<<8
	deassert := uint16(sel[2]) | uint16(sel[3])<<8

	switch flags & 0x30 {
	case eventActionNone:
	case eventActionEnable:
		m.Assert |= assert
		m.Deassert |= deassert
	case eventActionDisable:
		m.Assert &^= assert
		m.Deassert &^= deassert
	default:
		return nil, fmt.Errorf("event enable action 0x%02x: %w", flags&0x30, ErrInvalidField)
	}
	m.Messages = flags&0x80 != 0
	return nil, s.sensors.SetEventEnable(id, m)
}

func (s *Service) getSensorEventEnable(_ context.Context, req Request) ([]byte, error) {
	m, err := s.sensors.EventEnable(req.Data[0])
	if err != nil {
		return nil, err
	}
	flags := byte(readingScanning)
	if m.Messages {
		flags |= readingEventsEnabled
	}
	return []byte{flags, byte(m.Assert), byte(m.Assert >> 8), byte(m.Deassert), byte(m.Deassert >> 8)}, nil
}

func (s *Service) getSensorReading(_ context.Context, req Request) ([]byte, error) {
	id := req.Data[0]
	rec, ok := s.sensors.FindByID(id)
	if !ok {
		return nil, fmt.Errorf("sensor %d: %w", id, sdr.ErrUnknownSensor)
	}
	m, err := s.sensors.EventEnable(id)
	if err != nil {
		return nil, err
	}

	flags := byte(readingScanning)
	if m.Messages {
		flags |= readingEventsEnabled
	}
	rd := rec.Reading
	if !rd.Valid {
		flags |= readingUnavailable
	}

	if rec.Kind == sdr.Threshold {
		raw := rd.Value
		if raw > 0xFF {
			raw = 0xFF
		}
		return []byte{byte(raw), flags, 0xC0 | byte(rd.Status)}, nil
	}
	return []byte{0x00, flags, byte(rd.Value), byte(rd.Value >> 8)}, nil
}
