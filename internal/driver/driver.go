// Package driver defines the audio driver contract (§6) the engine
// depends on, and a concrete implementation backed by
// github.com/gordonklaus/portaudio, grounded on the teacher's device
// enumeration and stream-opening code in client/audio.go.
package driver

import "context"

// DeviceInfo describes one enumerated audio device, supplemented from the
// original implementation's device listing shape (spec §C): per-device
// supported sample rates rather than a single implied rate.
type DeviceInfo struct {
	Name           string
	IsDefault      bool
	SampleRates    []float64
	InputChannels  int
	OutputChannels int
}

// OutputStream delivers interleaved float32 buffers to a device in
// sequential frame order. Write blocks until the device has consumed buf;
// this is the idiomatic Go stand-in for the native realtime callback the
// original spec describes (§6: "no reordering within a single callback;
// across callbacks, the next buffer logically follows the previous one").
type OutputStream interface {
	Start() error
	// Write blocks until buf has been written to the device.
	Write(buf []float32) error
	Stop() error
	Close() error
}

// InputStream is the input-side analogue of OutputStream.
type InputStream interface {
	Start() error
	// Read blocks until buf has been filled from the device.
	Read(buf []float32) error
	Stop() error
	Close() error
}

// StreamParams describes an opened stream's fixed shape.
type StreamParams struct {
	DeviceName      string // empty selects the platform default
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
}

// Driver is the audio driver contract external to the engine: device
// enumeration plus stream opening at a chosen rate and channel count.
type Driver interface {
	// ListDevices returns all devices the platform currently exposes.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenOutputStream opens (but does not start) an output stream.
	// Returns UnsupportedRate if the device rejects the requested rate.
	OpenOutputStream(params StreamParams) (OutputStream, error)

	// OpenInputStream is the input-side analogue of OpenOutputStream.
	OpenInputStream(params StreamParams) (InputStream, error)

	// Close releases any driver-level resources (e.g. the PortAudio
	// library handle). Safe to call once the engine is fully stopped.
	Close() error
}
