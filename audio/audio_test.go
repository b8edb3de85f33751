package audio

import (
	"errors"
	"testing"
)

func testDevices() []OutputDevice {
	return AssignIDs([]Device{
		{Index: 0, Name: "Built-in Microphone", HostAPI: "ALSA", Channels: 0},
		{Index: 1, Name: "Jabra Evolve2 65", HostAPI: "ALSA", Channels: 2},
		{Index: 2, Name: "Jabra Evolve2 65", HostAPI: "ALSA", Channels: 2},
		{Index: 3, Name: "Poly Voyager", HostAPI: "ALSA", Channels: 1},
	})
}

func TestAssignIDsSkipsInputsAndDisambiguates(t *testing.T) {
	t.Parallel()

	devices := testDevices()
	if len(devices) != 3 {
		t.Fatalf("expected 3 output devices, got %d", len(devices))
	}

	want := []string{"ALSA/Jabra Evolve2 65", "ALSA/Jabra Evolve2 65#2", "ALSA/Poly Voyager"}
	for i, id := range want {
		if devices[i].ID != id {
			t.Fatalf("device %d: expected id %q, got %q", i, id, devices[i].ID)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	devices := testDevices()

	cases := []struct {
		identity string
		index    int
	}{
		{"ALSA/Jabra Evolve2 65#2", 2},
		{"3", 3},
		{"Poly Voyager", 3},
	}
	for _, tc := range cases {
		dev, err := Resolve(devices, tc.identity)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.identity, err)
		}
		if dev.Index != tc.index {
			t.Fatalf("resolve %q: expected index %d, got %d", tc.identity, tc.index, dev.Index)
		}
	}

	if _, err := Resolve(devices, "Jabra Evolve2 65"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ambiguous name to fail, got %v", err)
	}
	if _, err := Resolve(devices, "Nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected unknown device error, got %v", err)
	}
}
