package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// standardRates mirrors the rates the command interface allows selecting
// (§6); used to probe per-device support since PortAudio does not expose
// a device's full rate list directly.
var standardRates = []float64{44100, 48000, 88200, 96000, 176400, 192000}

// PortAudioDriver implements Driver on top of
// github.com/gordonklaus/portaudio, following the same
// Initialize-once/Terminate-once lifecycle and device-resolution pattern
// as the teacher's client/audio.go.
type PortAudioDriver struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDriver initializes the PortAudio library and returns a
// ready-to-use driver.
func NewPortAudioDriver() (*PortAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudioDriver{initialized: true}, nil
}

// Close terminates the PortAudio library.
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}

// ListDevices returns every device PortAudio currently reports.
func (d *PortAudioDriver) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defaultIn, _ := portaudio.DefaultInputDevice()
	defaultOut, _ := portaudio.DefaultOutputDevice()

	out := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		isDefault := (defaultIn != nil && dev.Name == defaultIn.Name) ||
			(defaultOut != nil && dev.Name == defaultOut.Name)
		out = append(out, DeviceInfo{
			Name:           dev.Name,
			IsDefault:      isDefault,
			SampleRates:    supportedRates(dev),
			InputChannels:  dev.MaxInputChannels,
			OutputChannels: dev.MaxOutputChannels,
		})
	}
	return out, nil
}

func supportedRates(dev *portaudio.DeviceInfo) []float64 {
	var rates []float64
	for _, r := range standardRates {
		if r <= dev.DefaultSampleRate*4 {
			rates = append(rates, r)
		}
	}
	if len(rates) == 0 {
		rates = []float64{dev.DefaultSampleRate}
	}
	return rates
}

func findDevice(devices []*portaudio.DeviceInfo, name string, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := fallback()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return dev, nil
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceUnavailable, name)
}

// OpenOutputStream opens a non-started output stream at params.SampleRate.
func (d *PortAudioDriver) OpenOutputStream(params StreamParams) (OutputStream, error) {
	if params.Channels <= 0 {
		return nil, ErrNoChannels
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	dev, err := findDevice(devices, params.DeviceName, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}
	if dev.MaxOutputChannels < params.Channels {
		return nil, ErrNoChannels
	}

	buf := make([]float32, params.FramesPerBuffer*params.Channels)
	streamParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      params.SampleRate,
		FramesPerBuffer: params.FramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(streamParams, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRate, err)
	}
	return &paOutputStream{stream: stream, buf: buf}, nil
}

// OpenInputStream opens a non-started input stream at params.SampleRate.
func (d *PortAudioDriver) OpenInputStream(params StreamParams) (InputStream, error) {
	if params.Channels <= 0 {
		return nil, ErrNoChannels
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	dev, err := findDevice(devices, params.DeviceName, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels < params.Channels {
		return nil, ErrNoChannels
	}

	buf := make([]float32, params.FramesPerBuffer*params.Channels)
	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      params.SampleRate,
		FramesPerBuffer: params.FramesPerBuffer,
	}
	stream, err := portaudio.OpenStream(streamParams, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRate, err)
	}
	return &paInputStream{stream: stream, buf: buf}, nil
}

type paStreamHandle interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

type paOutputStream struct {
	stream paStreamHandle
	buf    []float32
}

func (s *paOutputStream) Start() error { return s.stream.Start() }
func (s *paOutputStream) Stop() error  { return s.stream.Stop() }
func (s *paOutputStream) Close() error { return s.stream.Close() }

// Write copies buf into the stream's fixed backing buffer and blocks
// until PortAudio has consumed it.
func (s *paOutputStream) Write(buf []float32) error {
	copy(s.buf, buf)
	if err := s.stream.Write(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamInvalidated, err)
	}
	return nil
}

type paInputStream struct {
	stream paStreamHandle
	buf    []float32
}

func (s *paInputStream) Start() error { return s.stream.Start() }
func (s *paInputStream) Stop() error  { return s.stream.Stop() }
func (s *paInputStream) Close() error { return s.stream.Close() }

// Read blocks until PortAudio has filled the stream's backing buffer,
// then copies it into buf.
func (s *paInputStream) Read(buf []float32) error {
	if err := s.stream.Read(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamInvalidated, err)
	}
	copy(buf, s.buf)
	return nil
}
