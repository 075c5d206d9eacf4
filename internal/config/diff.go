package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the capture device hint apply without a restart; every other change is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DeviceChanged bool
	NewDevice     string

	// RestartRequired names the sections whose changes take effect only
	// after a restart, e.g. "buffer.duration".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DeviceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Capture.Device != new.Capture.Device {
		d.DeviceChanged = true
		d.NewDevice = new.Capture.Device
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.mcp", old.Server.MCPEnabled() != new.Server.MCPEnabled())
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("buffer.duration", old.Buffer.Duration != new.Buffer.Duration)
	restart("buffer.sample_rate", old.Buffer.SampleRate != new.Buffer.SampleRate)
	restart("capture.backend", old.Capture.Backend != new.Capture.Backend)
	oc, nc := old.Capture, new.Capture
	oc.Device, nc.Device, oc.Backend, nc.Backend = "", "", "", ""
	restart("capture", oc != nc)
	restart("codecs", !reflect.DeepEqual(old.Codecs, new.Codecs))
	restart("archive", !reflect.DeepEqual(old.Archive, new.Archive))

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
