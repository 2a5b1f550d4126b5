package ipmi

import (
	"context"
	"fmt"
)

const (
	picmgExtensionVersion = 0x23
	mmcFRUDeviceID        = 0x00
)

// FRU Control options.
const (
	FRUColdReset           uint8 = 0x00
	FRUWarmReset           uint8 = 0x01
	FRUGracefulReboot      uint8 = 0x02
	FRUDiagnosticInterrupt uint8 = 0x03
	FRUQuiesce             uint8 = 0x04
)

// FRUControlCapabilities advertises warm reset and graceful reboot; cold reset and
// quiesce are mandatory.
const FRUControlCapabilities uint8 = 0x06

// checkPICMG validates the PICMG identifier and, when present, the FRU id.
func (s *Service) checkPICMG(req Request) (int, error) {
	if req.Data[0] != PICMGIdentifier {
		return 0, fmt.Errorf("picmg identifier 0x%02x: %w", req.Data[0], ErrInvalidField)
	}
	if len(req.Data) < 2 {
		return 0, nil
	}
	fru := int(req.Data[1])
	if fru >= s.payload.Slots() {
		return 0, fmt.Errorf("fru %d: %w", fru, ErrInvalidField)
	}
	return fru, nil
}

func (s *Service) getPICMGProperties(_ context.Context, req Request) ([]byte, error) {
	if _, err := s.checkPICMG(req); err != nil {
		return nil, err
	}
	maxFRU := s.payload.Slots() - 1
	if maxFRU < 0 {
		maxFRU = 0
	}
	return []byte{PICMGIdentifier, picmgExtensionVersion, byte(maxFRU), mmcFRUDeviceID}, nil
}

func (s *Service) fruControl(_ context.Context, req Request) ([]byte, error) {
	fru, err := s.checkPICMG(req)
	if err != nil {
		return nil, err
	}
	switch req.Data[2] {
	case FRUColdReset:
		err = s.payload.RequestReset(fru)
	case FRUWarmReset, FRUGracefulReboot:
		err = s.payload.Reboot(fru)
	case FRUQuiesce:
		err = s.payload.RequestPowerOff(fru)
	case FRUDiagnosticInterrupt:
		return nil, fmt.Errorf("diagnostic interrupt not in capabilities: %w", ErrInvalidField)
	default:
		return nil, fmt.Errorf("fru control option 0x%02x: %w", req.Data[2], ErrInvalidField)
	}
	if err != nil {
		return nil, err
	}
	return []byte{PICMGIdentifier}, nil
}

func (s *Service) fruControlCapabilities(_ context.Context, req Request) ([]byte, error) {
	if _, err := s.checkPICMG(req); err != nil {
		return nil, err
	}
	return []byte{PICMGIdentifier, FRUControlCapabilities}, nil
}

func (s *Service) setFRUActivationPolicy(_ context.Context, req Request) ([]byte, error) {
	fru, err := s.checkPICMG(req)
	if err != nil {
		return nil, err
	}
	if err := s.payload.SetActivationPolicy(fru, req.Data[2], req.Data[3]); err != nil {
		return nil, err
	}
	return []byte{PICMGIdentifier}, nil
}

func (s *Service) getFRUActivationPolicy(_ context.Context, req Request) ([]byte, error) {
	fru, err := s.checkPICMG(req)
	if err != nil {
		return nil, err
	}
	p, err := s.payload.ActivationPolicy(fru)
	if err != nil {
		return nil, err
	}
	return []byte{PICMGIdentifier, p.Bits()}, nil
}

func (s *Service) setFRUActivation(_ context.Context, req Request) ([]byte, error) {
	fru, err := s.checkPICMG(req)
	if err != nil {
		return nil, err
	}
	switch req.Data[2] {
	case 0x00:
		err = s.payload.RequestPowerOff(fru)
	case 0x01:
		err = s.payload.RequestPowerOn(fru)
	default:
		return nil, fmt.Errorf("fru activation 0x%02x: %w", req.Data[2], ErrInvalidField)
	}
	if err != nil {
		return nil, err
	}
	return []byte{PICMGIdentifier}, nil
}
