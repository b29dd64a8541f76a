package hardware

import (
	"fmt"
	"time"
)

// RegisterFile is register-level access to a part.
type RegisterFile interface {
	ReadReg(r Register) byte
	WriteReg(r Register, v byte)
}

// RegisterEEPROM is an nvstore.Device over the part's EEPROM control
// registers.
//
// Read of one byte:
//
//  1. Wait for EECR.EEPE to clear (no write in progress)
//  2. Write the address to EEARH:EEARL
//  3. Set EECR.EERE; the byte is latched into EEDR
//
// Write of one byte:
//
//  1. Wait for EECR.EEPE to clear
//  2. Write the address to EEARH:EEARL and the data to EEDR
//  3. Set EECR.EEMPE, then EECR.EEPE while EEMPE is still set
type RegisterEEPROM struct {
	regs    RegisterFile
	size    int
	timeout time.Duration
}

// NewRegisterEEPROM returns a device of size bytes.
func NewRegisterEEPROM(regs RegisterFile, size int) *RegisterEEPROM {
	return &RegisterEEPROM{regs: regs, size: size, timeout: 50 * time.Millisecond}
}

func (e *RegisterEEPROM) Size() int64 { return int64(e.size) }

func (e *RegisterEEPROM) ReadAt(p []byte, off int64) (int, error) {
	if err := e.check(off, len(p)); err != nil {
		return 0, err
	}
	for i := range p {
		if err := e.waitReady(); err != nil {
			return i, err
		}
		e.address(off + int64(i))
		e.regs.WriteReg(RegEECR, Bit(BitEERE))
		p[i] = e.regs.ReadReg(RegEEDR)
	}
	return len(p), nil
}

func (e *RegisterEEPROM) WriteAt(p []byte, off int64) (int, error) {
	if err := e.check(off, len(p)); err != nil {
		return 0, err
	}
	for i, b := range p {
		if err := e.waitReady(); err != nil {
			return i, err
		}
		e.address(off + int64(i))
		e.regs.WriteReg(RegEEDR, b)
		e.regs.WriteReg(RegEECR, Bit(BitEEMPE))
		e.regs.WriteReg(RegEECR, Bit(BitEEMPE)|Bit(BitEEPE))
	}
	// The last write must finish before the data is durable.
	if err := e.waitReady(); err != nil {
		return max(len(p)-1, 0), err
	}
	return len(p), nil
}

func (e *RegisterEEPROM) check(off int64, n int) error {
	if off < 0 || off+int64(n) > int64(e.size) {
		return fmt.Errorf("eeprom: access [%d,%d) outside %d bytes", off, off+int64(n), e.size)
	}
	return nil
}

func (e *RegisterEEPROM) address(a int64) {
	e.regs.WriteReg(RegEEARH, byte(a>>8))
	e.regs.WriteReg(RegEEARL, byte(a))
}

// waitReady polls EEPE until the previous write completes, timeout e.timeout.
func (e *RegisterEEPROM) waitReady() error {
	deadline := time.Now().Add(e.timeout)
	for HasBit(e.regs.ReadReg(RegEECR), BitEEPE) {
		if time.Now().After(deadline) {
			return ErrHardware("eeprom: write still in progress after " + e.timeout.String())
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
