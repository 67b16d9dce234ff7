package rules

// Operation is the arithmetic a fired rule applies to the running score.
type Operation int

const (
	OpUnknown Operation = iota
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
)

// ParseOperation extracts the first operator symbol found in raw. Stored
// operations come either as a bare symbol ("*") or in a verbose form such as
// "Multiply (*)"; anything without a symbol is OpUnknown.
func ParseOperation(raw string) Operation {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '+':
			return OpAdd
		case '-':
			return OpSubtract
		case '*':
			return OpMultiply
		case '/':
			return OpDivide
		}
	}
	return OpUnknown
}

// Apply returns score adjusted by value. Division by zero and unknown
// operations leave score unchanged.
func (op Operation) Apply(score, value float64) float64 {
	switch op {
	case OpAdd:
		return score + value
	case OpSubtract:
		return score - value
	case OpMultiply:
		return score * value
	case OpDivide:
		if value == 0 {
			return score
		}
		return score / value
	default:
		return score
	}
}

// Valid reports whether op is one of the four arithmetic operations.
func (op Operation) Valid() bool {
	return op >= OpAdd && op <= OpDivide
}

func (op Operation) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSubtract:
		return "-"
	case OpMultiply:
		return "*"
	case OpDivide:
		return "/"
	default:
		return "?"
	}
}
