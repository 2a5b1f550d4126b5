package engine

import (
	"fmt"

	"mmcd/config"
	"mmcd/hardware"
	"mmcd/ipmi"
	"mmcd/payload"
	"mmcd/sdr"

	"github.com/google/uuid"
)

// defaultEventReceiver is the shelf manager's IPMB address.
const defaultEventReceiver uint8 = 0x20

// Simulated board readings used until something sets them.
const (
	simPayloadTemp uint16 = 45
	simMMCTemp     uint16 = 30
)

func descriptorsFromConfig(cfg *config.SensorsConfig) ([]sdr.Descriptor, error) {
	descs := make([]sdr.Descriptor, 0, len(cfg.Descriptors))
	for _, d := range cfg.Descriptors {
		kind, ok := sdr.ParseKind(d.Kind)
		if !ok {
			return nil, fmt.Errorf("sensor %d (%s): unknown kind %q", d.ID, d.Name, d.Kind)
		}
		descs = append(descs, sdr.Descriptor{
			ID:             d.ID,
			Name:           d.Name,
			Kind:           kind,
			SensorType:     d.Type,
			ReadingType:    d.ReadingType,
			Owner:          d.Owner,
			EventEnable:    d.EventEnable,
			DeassertEnable: d.DeassertEnable,
			Thresholds: sdr.Thresholds{
				LowerCritical:    d.LowerCritical,
				LowerNonCritical: d.LowerNonCritical,
				UpperNonCritical: d.UpperNonCritical,
				UpperCritical:    d.UpperCritical,
			},
		})
	}
	return descs, nil
}

func sequencerConfig(cfg *config.Config, logFn LogFunc) payload.Config {
	slots := make([]payload.SlotConfig, len(cfg.Slots))
	for i, s := range cfg.Slots {
		slots[i] = payload.SlotConfig{
			Entity:        s.Entity,
			StateSensor:   s.StateSensor,
			HotswapSensor: s.HotswapSensor,
		}
	}
	p := cfg.Payload
	return payload.Config{
		Timing: payload.Timing{
			PowerGoodTimeout:          p.PowerGoodTimeout,
			SetupTimeout:              p.SetupTimeout,
			QuiesceTimeout:            p.QuiesceTimeout,
			PowerDownTimeout:          p.PowerDownTimeout,
			DischargeDelay:            p.DischargeDelay,
			ResetPulseOnForcedQuiesce: p.ResetPulseOnForcedQuiesce,
		},
		Slots:   slots,
		LogFunc: logFn,
	}
}

func dispatcherOptions(cfg *config.IPMIConfig, debugFn LogFunc) ([]ipmi.Option, error) {
	opts := []ipmi.Option{ipmi.WithDebug(ipmi.LogFunc(debugFn))}
	for _, ch := range cfg.Channels {
		p, err := ipmi.ParsePrivilege(ch.Privilege)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch.Number, err)
		}
		opts = append(opts, ipmi.WithChannel(ch.Number, p))
	}
	return opts, nil
}

func deviceInfo(cfg *config.IPMIConfig) (ipmi.DeviceInfo, error) {
	info := ipmi.DeviceInfo{
		DeviceID:       cfg.DeviceID,
		DeviceRevision: cfg.DeviceRevision,
		FirmwareMajor:  cfg.FirmwareMajor,
		FirmwareMinor:  cfg.FirmwareMinor,
		ManufacturerID: cfg.ManufacturerID,
		ProductID:      cfg.ProductID,
	}
	if cfg.DeviceGUID != "" {
		g, err := uuid.Parse(cfg.DeviceGUID)
		if err != nil {
			return info, fmt.Errorf("device guid: %w", err)
		}
		info.GUID = g
	}
	return info, nil
}

// newSimBoard builds a simulated board whose handles start closed and whose
// threshold sensors read nominal values.
func newSimBoard(cfg *config.Config) *hardware.Sim {
	slotOf := make(map[string]int, len(cfg.Slots))
	for i, s := range cfg.Slots {
		slotOf[s.Entity] = i
	}
	bound := make(map[uint8]int)
	for _, d := range cfg.Sensors.Descriptors {
		if i, ok := slotOf[d.Owner]; ok {
			bound[d.ID] = i
		}
	}
	sim := hardware.NewSim(hardware.SimConfig{
		Slots:          len(cfg.Slots),
		PowerGoodDelay: cfg.Payload.PowerGoodTimeout / 10,
		SetupDelay:     cfg.Payload.SetupTimeout / 30,
		SlotSensors:    bound,
	})
	for i := range cfg.Slots {
		sim.SetHandle(i, payload.Inserted)
	}
	for _, d := range cfg.Sensors.Descriptors {
		if d.Kind != sdr.Threshold.String() {
			continue
		}
		if _, ok := bound[d.ID]; ok {
			sim.SetSensor(d.ID, simPayloadTemp)
		} else {
			sim.SetSensor(d.ID, simMMCTemp)
		}
	}
	return sim
}
