// Package drivepower polls the antenna drive power cabinet over modbus.
// The cabinet reports its relay count in an input register, the
// commanded az/el drive enables as coils, and the energized state of
// the contactors as discrete inputs.  Motion is refused while the
// drives are not energized.
package drivepower

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/srtlab/acu_interface/internal/modbus"
)

type Status struct {
	// SpinupDelay is the cabinet's configured contactor spin-up delay,
	// seconds.
	SpinupDelay int

	CommandAzEnabled bool
	CommandElEnabled bool

	AzEnergized bool
	ElEnergized bool
}

// Energized reports whether both servo drives have power.
func (s Status) Energized() bool {
	return s.AzEnergized && s.ElEnergized
}

type StatusCallback func(status Status)

type DrivePower struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         *modbus.Client
	relays         int
	delay          int
	coils          []bool
	inputs         []bool
	valid          bool
}

// Connect opens the cabinet's serial bus and starts polling.  Status
// updates are delivered through the callback.
func Connect(ctx context.Context, port string, baud int, statusCallback StatusCallback) (*DrivePower, error) {
	d := &DrivePower{
		client: &modbus.Client{
			Port:     port,
			BaudRate: baud,
			SlaveId:  1,
		},
		statusCallback: statusCallback,
	}
	d.client.Poll = d.pollOnce
	return d, d.client.Connect(ctx)
}

func (d *DrivePower) pollOnce() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	results, err := d.client.ReadInputRegisters(0, 1)
	if err != nil {
		return err
	}
	relays := binary.BigEndian.Uint16(results)

	results, err = d.client.ReadHoldingRegisters(0, 1)
	if err != nil {
		return err
	}
	d.delay = int(binary.BigEndian.Uint16(results))

	coils, err := d.client.ReadCoils(0, relays)
	if err != nil {
		return err
	}
	inputs, err := d.client.ReadDiscreteInputs(0, relays)
	if err != nil {
		return err
	}
	d.relays = int(relays)
	d.coils = modbus.BytesToBits(coils)
	d.inputs = modbus.BytesToBits(inputs)
	d.valid = len(d.coils) >= 2 && len(d.inputs) >= 2
	d.notifyStatus()
	return nil
}

func (d *DrivePower) notifyStatus() {
	if !d.valid {
		return
	}
	d.statusCallback(d.parseRegisters())
}

func (d *DrivePower) parseRegisters() Status {
	return Status{
		SpinupDelay: d.delay,

		CommandAzEnabled: d.coils[0],
		CommandElEnabled: d.coils[1],

		AzEnergized: d.inputs[0],
		ElEnergized: d.inputs[1],
	}
}

// SetDrivesEnabled commands both drive enable relays.
func (d *DrivePower) SetDrivesEnabled(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.client.WriteCoil(0, enabled); err != nil {
		return err
	}
	return d.client.WriteCoil(1, enabled)
}

// Latest returns the most recent parsed status.  ok is false until the
// first successful poll.
func (d *DrivePower) Latest() (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.valid {
		return Status{}, false
	}
	return d.parseRegisters(), true
}
