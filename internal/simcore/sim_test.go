package simcore

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func TestQuaternionNormPreserved(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(42)))
	s.Start()
	_ = s.SetRWTorque(0, 0.2)
	for i := 0; i < 10000; i++ {
		s.Tick()
		n := s.craft.Attitude.Norm()
		if math.Abs(n-1) > 1e-6 {
			t.Fatalf("tick %d: |q|=%v out of [1-1e-6, 1+1e-6]", i, n)
		}
	}
}

func TestReactionWheelSpeedClamped(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(1)))
	s.Start()
	_ = s.SetRWTorque(0, 0.2)
	for i := 0; i < 200000; i++ {
		s.Tick()
	}
	snap := s.Snapshot()
	if snap["rw0_speed"] > rwSpeedMaxRPM+1e-9 || snap["rw0_speed"] < -rwSpeedMaxRPM-1e-9 {
		t.Fatalf("rw0_speed out of bounds: %v", snap["rw0_speed"])
	}
}

func TestResetRWClearsCommandedStateAndFaults(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(1)))
	s.Start()
	if err := s.SetRWTorque(0, 0.1); err != nil {
		t.Fatalf("SetRWTorque: %v", err)
	}
	s.wheels[0].Faults = RWFaultOverTemp

	if err := s.ResetRW(0); err != nil {
		t.Fatalf("ResetRW: %v", err)
	}

	w := s.wheels[0]
	if w.MotorEnabled || w.On {
		t.Fatalf("expected wheel disabled after reset, got MotorEnabled=%v On=%v", w.MotorEnabled, w.On)
	}
	if w.Mode != RWStandby {
		t.Fatalf("expected wheel in standby after reset, got mode %v", w.Mode)
	}
	if w.CommandedTorque != 0 {
		t.Fatalf("expected commanded torque zeroed after reset, got %v", w.CommandedTorque)
	}
	if w.Faults != 0 {
		t.Fatalf("expected faults cleared after reset, got %#x", w.Faults)
	}
}

func TestTorqueRodDipoleClamp(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(1)))
	if err := s.SetTorqueRod(0, 1000); err != nil {
		t.Fatalf("SetTorqueRod: %v", err)
	}
	snap := s.Snapshot()
	if snap["mtr0_dipole"] != 50.0 {
		t.Fatalf("mtr0_dipole: got %v want 50.0", snap["mtr0_dipole"])
	}
}

func TestReactionWheelSpinUp(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(7)))
	s.Start()
	if err := s.SetRWTorque(0, 0.05); err != nil {
		t.Fatalf("SetRWTorque: %v", err)
	}
	ticks := int(1.0 * TickRate)
	for i := 0; i < ticks; i++ {
		s.Tick()
	}
	snap := s.Snapshot()
	if snap["rw0_cmd_torque"] < 0.0499 || snap["rw0_cmd_torque"] > 0.0501 {
		t.Fatalf("rw0_cmd_torque: got %v want ~0.05", snap["rw0_cmd_torque"])
	}
	if snap["rw0_speed"] <= 0 || snap["rw0_speed"] > rwSpeedMaxRPM {
		t.Fatalf("rw0_speed did not spin up as expected: %v", snap["rw0_speed"])
	}
}

func TestEclipseBlindsAllSunSensors(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(3)))
	s.Start()
	s.ForceEclipse(true)
	s.Tick()
	snap := s.Snapshot()
	for i := 0; i < numSunSensors; i++ {
		key := fmt.Sprintf("ss%d_detected", i)
		if snap[key] != 0 {
			t.Fatalf("%s: got %v want 0 (eclipsed)", key, snap[key])
		}
	}
}

func TestResetZeroesMissionTimePreservesGyroDrift(t *testing.T) {
	s := NewSim(rand.New(rand.NewSource(5)))
	s.Start()
	for i := 0; i < 1000; i++ {
		s.Tick()
	}
	driftBefore := s.gyro.BiasDrift
	s.Reset()
	if s.missionTime != 0 {
		t.Fatalf("missionTime not reset: %v", s.missionTime)
	}
	if s.gyro.BiasDrift != driftBefore {
		t.Fatalf("gyro bias drift was reset, expected preserved: got %+v want %+v", s.gyro.BiasDrift, driftBefore)
	}
	if s.Running() {
		t.Fatalf("sim still running after reset")
	}
}

func TestOutOfRangeIndexErrors(t *testing.T) {
	s := NewSim(nil)
	if err := s.SetRWTorque(4, 0.1); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if err := s.SetThruster(-1, true); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
