package ipmi

import "context"

const (
	ipmiVersion   = 0x02
	deviceSupport = 0x3B // sensor, SDR repo, FRU inventory, event receiver + generator
	providesSDRs  = 0x80
)

func (s *Service) getDeviceID(_ context.Context, _ Request) ([]byte, error) {
	mfr := s.info.ManufacturerID
	return []byte{
		s.info.DeviceID,
		providesSDRs | s.info.DeviceRevision&0x0F,
		s.info.FirmwareMajor & 0x7F,
		s.info.FirmwareMinor,
		ipmiVersion,
		deviceSupport,
		byte(mfr), byte(mfr >> 8), byte(mfr >> 16),
		byte(s.info.ProductID), byte(s.info.ProductID >> 8),
	}, nil
}

func (s *Service) getDeviceGUID(_ context.Context, _ Request) ([]byte, error) {
	guid := s.info.GUID
	// IPMI sends the GUID least significant byte first.
	out := make([]byte, len(guid))
	for i := range guid {
		out[i] = guid[len(guid)-1-i]
	}
	return out, nil
}
