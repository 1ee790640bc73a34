package dispatch

import (
	"github.com/aurora-scoe/aocs-scoe/internal/simcore"
)

// Function Management (TC[8,1]) function ids.
const (
	funcStart    uint8 = 0x01
	funcStop     uint8 = 0x02
	funcReset    uint8 = 0x03
	funcCommit   uint8 = 0x04
	funcSelfTest uint8 = 0x05

	funcRWBase   uint8 = 0x10
	funcThrBase  uint8 = 0x20
	funcRodBase  uint8 = 0x30
	funcSADABase uint8 = 0x40
)

// Reaction-wheel opcodes (the second payload byte under 0x10+n).
const (
	rwOpMotorControl       uint8 = 0x00
	rwOpSpeedTorqueTimeout uint8 = 0x02
	rwOpResetControl       uint8 = 0x03
	rwOpTorqueSpeedControl uint8 = 0x04
	rwOpClearFaults        uint8 = 0x05
	rwOpModeControl        uint8 = 0x0E
)

func (d *Dispatcher) dispatchFunctionManagement(data []byte) error {
	if len(data) < 1 {
		return errMalformed("TC[8,1]: empty payload")
	}
	fn := data[0]
	body := data[1:]

	switch {
	case fn == funcStart:
		d.sim.Start()
		return nil
	case fn == funcStop:
		d.sim.Stop()
		return nil
	case fn == funcReset:
		d.sim.Reset()
		return nil
	case fn == funcCommit:
		d.staging.Commit() // paramId->value resolution is an external concern (Non-goal); committing just clears the table
		return nil
	case fn == funcSelfTest:
		d.selfTest()
		return nil
	case fn >= funcRWBase && fn < funcRWBase+4:
		return d.dispatchRW(int(fn-funcRWBase), body)
	case fn >= funcThrBase && fn < funcThrBase+4:
		return d.dispatchThruster(int(fn-funcThrBase), body)
	case fn >= funcRodBase && fn < funcRodBase+3:
		return d.dispatchTorqueRod(int(fn-funcRodBase), body)
	case fn >= funcSADABase && fn < funcSADABase+2:
		return d.dispatchSADA(int(fn-funcSADABase), body)
	default:
		return errUnknownFunction(fn)
	}
}

func (d *Dispatcher) dispatchRW(i int, body []byte) error {
	if len(body) < 1 {
		return errMalformed("reaction-wheel subcommand: missing opcode")
	}
	opcode := body[0]
	payload := body[1:]

	var err error
	switch opcode {
	case rwOpMotorControl:
		if len(payload) < 1 {
			return errMalformed("MOTOR_CONTROL: missing enable byte")
		}
		err = d.sim.SetRWMotorControl(i, payload[0] != 0)
	case rwOpTorqueSpeedControl:
		v, ferr := readF32(payload)
		if ferr != nil {
			return ferr
		}
		err = d.sim.SetRWTorque(i, v)
	case rwOpModeControl:
		if len(payload) < 1 {
			return errMalformed("MODE_CONTROL: missing mode byte")
		}
		mode := simcore.RWStandby
		if payload[0] != 0 {
			mode = simcore.RWOperate
		}
		err = d.sim.SetRWMode(i, mode)
	case rwOpClearFaults:
		err = d.sim.ClearRWFaults(i)
	case rwOpResetControl:
		err = d.sim.ResetRW(i)
	case rwOpSpeedTorqueTimeout:
		// accepted, no simulated side effect beyond acknowledgement — the
		// original never implements this opcode either.
		err = nil
	default:
		return errMalformed("reaction-wheel subcommand: unknown opcode")
	}
	if err != nil {
		return errOutOfRange(err.Error())
	}
	return nil
}

func (d *Dispatcher) dispatchThruster(i int, body []byte) error {
	if len(body) < 1 {
		return errMalformed("thruster command: missing on/off byte")
	}
	if err := d.sim.SetThruster(i, body[0] != 0); err != nil {
		return errOutOfRange(err.Error())
	}
	return nil
}

func (d *Dispatcher) dispatchTorqueRod(i int, body []byte) error {
	v, err := readF32(body)
	if err != nil {
		return err
	}
	if err := d.sim.SetTorqueRod(i, v); err != nil {
		return errOutOfRange(err.Error())
	}
	return nil
}

func (d *Dispatcher) dispatchSADA(i int, body []byte) error {
	v, err := readF32(body)
	if err != nil {
		return err
	}
	if err := d.sim.SetSADA(i, v); err != nil {
		return errOutOfRange(err.Error())
	}
	return nil
}
