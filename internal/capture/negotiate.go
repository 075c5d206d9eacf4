package capture

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// hintThreshold is the minimum Jaro-Winkler similarity for a device name to
// count as matching the configured hint.
const hintThreshold = 0.8

type negotiated struct {
	device Device
	config StreamConfig
}

// hintScore rates how well name matches hint in [0, 1]. A case-insensitive
// substring match scores 1.
func hintScore(hint, name string) float64 {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return 0
	}
	name = strings.ToLower(name)
	if strings.Contains(name, hint) {
		return 1
	}
	if s := matchr.JaroWinkler(hint, name, false); s >= hintThreshold {
		return s
	}
	return 0
}

// rankDevices orders devices for negotiation: hint matches first (best match
// first), then the system default, then enumeration order.
func rankDevices(devices []Device, hint string) []Device {
	type ranked struct {
		dev   Device
		score float64
		index int
	}
	rs := make([]ranked, len(devices))
	for i, d := range devices {
		rs[i] = ranked{dev: d, score: hintScore(hint, d.Name), index: i}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if a.dev.IsDefault != b.dev.IsDefault {
			if a.dev.IsDefault {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.index, b.index)
	})
	out := make([]Device, len(rs))
	for i, r := range rs {
		out[i] = r.dev
	}
	return out
}

// selectConfig picks a stream configuration for dev. The target rate is used
// when the device supports it, otherwise the device default.
func selectConfig(h Host, dev Device, targetRate uint32, channels, bufferFrames int) (StreamConfig, error) {
	if dev.MaxChannels < 1 {
		return StreamConfig{}, fmt.Errorf("device %q has no input channels", dev.Name)
	}
	if channels < 1 {
		channels = 1
	}
	cfg := StreamConfig{
		SampleRate:   dev.DefaultConfig.SampleRate,
		Channels:     min(channels, dev.MaxChannels),
		BufferFrames: bufferFrames,
	}
	if targetRate > 0 {
		want := cfg
		want.SampleRate = targetRate
		if supportsRate(h, dev, want) {
			cfg = want
		}
	}
	if cfg.SampleRate == 0 {
		return StreamConfig{}, fmt.Errorf("device %q reports no usable sample rate", dev.Name)
	}
	return cfg, nil
}

func supportsRate(h Host, dev Device, cfg StreamConfig) bool {
	if rc, ok := h.(RateChecker); ok {
		return rc.SupportsConfig(dev, cfg)
	}
	return cfg.SampleRate >= dev.MinSampleRate && cfg.SampleRate <= dev.MaxSampleRate
}

// negotiate enumerates devices and returns the first ranked device with a
// usable configuration.
func (m *Manager) negotiate(ctx context.Context) (negotiated, error) {
	devices, err := m.host.Devices(ctx)
	if err != nil {
		return negotiated{}, fmt.Errorf("capture: enumerate %s devices: %w", m.host.Name(), err)
	}
	if len(devices) == 0 {
		return negotiated{}, ErrNoDevices
	}

	target := m.sampleRate
	if target == 0 {
		target = m.buf.SampleRate()
	}
	for _, dev := range rankDevices(devices, m.DeviceHint()) {
		cfg, err := selectConfig(m.host, dev, target, m.channels, m.bufferFrames)
		if err != nil {
			m.log.Debug("skipping capture device", "device", dev.Name, "err", err)
			continue
		}
		return negotiated{device: dev, config: cfg}, nil
	}
	return negotiated{}, ErrNoUsableConfig
}
