package hardware

// Register is an I/O register address in the simulated part.
type Register = byte

// I/O register addresses, matching the ATtiny25/45/85 I/O map.
const (
	RegOCR0A  Register = 0x29 // Output compare A, output timer
	RegTCNT1  Register = 0x2F // Input timer counter
	RegTCCR1  Register = 0x30 // Input timer control: [3:0]=clock select
	RegTCNT0  Register = 0x32 // Output timer counter
	RegTCCR0B Register = 0x33 // Output timer control B: [2:0]=clock select
	RegPCMSK  Register = 0x15 // Pin change mask
	RegPINB   Register = 0x16 // Port B input pins (read-only)
	RegDDRB   Register = 0x17 // Port B data direction (1=output)
	RegPORTB  Register = 0x18 // Port B output latch / pull-up enable
	RegEECR   Register = 0x1C // EEPROM control
	RegEEDR   Register = 0x1D // EEPROM data
	RegEEARL  Register = 0x1E // EEPROM address low byte
	RegEEARH  Register = 0x1F // EEPROM address high byte
	RegTIFR   Register = 0x38 // Timer interrupt flags (write 1 to clear)
	RegTIMSK  Register = 0x39 // Timer interrupt mask
	RegGIFR   Register = 0x3A // General interrupt flags (write 1 to clear)
	RegGIMSK  Register = 0x3B // General interrupt mask

	numRegisters = 0x40
)

// TIFR / TIMSK bits.
const (
	BitTOV0   = 1 // output timer overflow
	BitTOV1   = 2 // input timer overflow
	BitOCF0A  = 4 // output compare A match
	BitTOIE0  = BitTOV0
	BitTOIE1  = BitTOV1
	BitOCIE0A = BitOCF0A
)

// GIFR / GIMSK bits.
const (
	BitPCIF = 5
	BitPCIE = BitPCIF
)

// EECR bits.
const (
	BitEERE  = 0 // read enable
	BitEEPE  = 1 // program enable, stays set while a write is in progress
	BitEEMPE = 2 // master program enable, must precede EEPE
)

// Clock select values.
const (
	ClockOff   byte = 0
	Clock0Div8 byte = 0x02 // output timer CS01
	Clock1Div8 byte = 0x04 // input timer CS12
)

// Port B pin assignment.
const (
	PinOut0      = 0 // output channel 0; jumper check A
	PinOut1      = 1 // output channel 1; jumper check B
	PinIn0       = 2 // input channel 0
	PinIn1       = 3 // input channel 1
	PinIndicator = 4
)

// EEPROMSize is the size of the simulated part's EEPROM.
const EEPROMSize = 512

// Bit returns the mask for bit n.
func Bit(n uint) byte { return 1 << n }

// HasBit reports whether bit n of v is set.
func HasBit(v byte, n uint) bool { return v&(1<<n) != 0 }

// WithBit returns v with bit n set or cleared.
func WithBit(v byte, n uint, set bool) byte {
	if set {
		return v | 1<<n
	}
	return v &^ (1 << n)
}

// LevelsFromPINB extracts the input channel levels from a PINB value:
// bit 0 = channel 0, bit 1 = channel 1.
func LevelsFromPINB(pinb byte) uint8 {
	var l uint8
	if HasBit(pinb, PinIn0) {
		l |= 1
	}
	if HasBit(pinb, PinIn1) {
		l |= 2
	}
	return l
}

// OutputPin returns the port B pin for output channel ch.
func OutputPin(ch int) uint {
	if ch == 1 {
		return PinOut1
	}
	return PinOut0
}

// InputPin returns the port B pin for input channel ch.
func InputPin(ch int) uint {
	if ch == 1 {
		return PinIn1
	}
	return PinIn0
}
