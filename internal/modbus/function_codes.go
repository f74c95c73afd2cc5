package modbus

// Modbus function codes.

const (
	// Bit access
	FcReadCoils          FunctionCode = 0x01
	FcReadDiscreteInputs FunctionCode = 0x02

	// 16-bit register access
	FcReadHoldingRegisters FunctionCode = 0x03
	FcReadInputRegisters   FunctionCode = 0x04

	// Single write
	FcWriteSingleCoil     FunctionCode = 0x05
	FcWriteSingleRegister FunctionCode = 0x06

	// Multiple write
	FcWriteMultipleCoils     FunctionCode = 0x0F
	FcWriteMultipleRegisters FunctionCode = 0x10
)

// String returns a human-readable name for the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FcReadCoils:
		return "Read_Coils"
	case FcReadDiscreteInputs:
		return "Read_Discrete_Inputs"
	case FcReadHoldingRegisters:
		return "Read_Holding_Registers"
	case FcReadInputRegisters:
		return "Read_Input_Registers"
	case FcWriteSingleCoil:
		return "Write_Single_Coil"
	case FcWriteSingleRegister:
		return "Write_Single_Register"
	case FcWriteMultipleCoils:
		return "Write_Multiple_Coils"
	case FcWriteMultipleRegisters:
		return "Write_Multiple_Registers"
	default:
		return "Unknown"
	}
}

// FunctionSet is a membership set of function codes.
type FunctionSet map[FunctionCode]struct{}

// NewFunctionSet builds a set from integer codes, ignoring values outside 1..255.
func NewFunctionSet(codes []int) FunctionSet {
	set := make(FunctionSet, len(codes))
	for _, c := range codes {
		if c < 1 || c > 0xFF {
			continue
		}
		set[FunctionCode(c)] = struct{}{}
	}
	return set
}

// Contains reports whether fc is in the set.
func (s FunctionSet) Contains(fc FunctionCode) bool {
	_, ok := s[fc]
	return ok
}
