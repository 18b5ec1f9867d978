package driver

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
)

func TestSupportedRatesWithinDeviceRange(t *testing.T) {
	dev := &portaudio.DeviceInfo{DefaultSampleRate: 48000}
	rates := supportedRates(dev)
	if len(rates) == 0 {
		t.Fatal("expected at least one supported rate")
	}
	for _, r := range rates {
		if r > dev.DefaultSampleRate*4 {
			t.Errorf("rate %v exceeds 4x default sample rate %v", r, dev.DefaultSampleRate)
		}
	}
}

func TestSupportedRatesFallsBackToDefault(t *testing.T) {
	dev := &portaudio.DeviceInfo{DefaultSampleRate: 1000} // below all standard rates
	rates := supportedRates(dev)
	if len(rates) != 1 || rates[0] != 1000 {
		t.Fatalf("expected fallback to device default, got %v", rates)
	}
}

func TestFindDeviceByName(t *testing.T) {
	devices := []*portaudio.DeviceInfo{
		{Name: "Mic A"},
		{Name: "Mic B"},
	}
	dev, err := findDevice(devices, "Mic B", func() (*portaudio.DeviceInfo, error) {
		t.Fatal("fallback should not be called when name matches")
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if dev.Name != "Mic B" {
		t.Errorf("got device %q, want Mic B", dev.Name)
	}
}

func TestFindDeviceUnknownNameIsDeviceUnavailable(t *testing.T) {
	devices := []*portaudio.DeviceInfo{{Name: "Mic A"}}
	_, err := findDevice(devices, "Nonexistent", func() (*portaudio.DeviceInfo, error) {
		t.Fatal("fallback should not be called for an unknown explicit name")
		return nil, nil
	})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestFindDeviceEmptyNameUsesFallback(t *testing.T) {
	devices := []*portaudio.DeviceInfo{{Name: "Mic A"}}
	called := false
	dev, err := findDevice(devices, "", func() (*portaudio.DeviceInfo, error) {
		called = true
		return devices[0], nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("fallback should be called for an empty device name")
	}
	if dev.Name != "Mic A" {
		t.Errorf("got %q, want Mic A", dev.Name)
	}
}

func TestFindDeviceFallbackErrorWrapsDeviceUnavailable(t *testing.T) {
	_, err := findDevice(nil, "", func() (*portaudio.DeviceInfo, error) {
		return nil, errors.New("no default device")
	})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}
