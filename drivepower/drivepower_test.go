package drivepower

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRegisters(t *testing.T) {
	d := &DrivePower{
		relays: 2,
		delay:  15,
		coils:  []bool{true, true, false, false, false, false, false, false},
		inputs: []bool{true, false, false, false, false, false, false, false},
		valid:  true,
	}
	want := Status{
		SpinupDelay:      15,
		CommandAzEnabled: true,
		CommandElEnabled: true,
		AzEnergized:      true,
		ElEnergized:      false,
	}
	got, ok := d.Latest()
	if !ok {
		t.Fatal("Latest not ok after poll")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if got.Energized() {
		t.Error("Energized with elevation contactor open")
	}

	d.inputs[1] = true
	got, _ = d.Latest()
	if !got.Energized() {
		t.Error("not Energized with both contactors closed")
	}
}

func TestLatestBeforeFirstPoll(t *testing.T) {
	d := &DrivePower{}
	if _, ok := d.Latest(); ok {
		t.Error("Latest ok before any poll")
	}
}
