package driver

import "errors"

// Error kinds surfaced by the core (§7). Matched with errors.Is against
// the sentinels below; wrapping implementations (like the portaudio
// driver) should use fmt.Errorf("...: %w", ErrDeviceUnavailable) so
// callers can still compare.
var (
	ErrDeviceNotSelected  = errors.New("driver: no device selected")
	ErrDeviceUnavailable  = errors.New("driver: device unavailable")
	ErrUnsupportedRate    = errors.New("driver: device rejected requested sample rate")
	ErrNoChannels         = errors.New("driver: device exposes no usable channels")
	ErrChannelPairInvalid = errors.New("driver: channel pair invalid")
	ErrStreamInvalidated  = errors.New("driver: stream invalidated by device")
)
