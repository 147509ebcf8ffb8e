package cipher

// XORKeys is the fixed single-byte key set, in trial order.
var XORKeys = []byte{
	0x20, 0xFF, 0xAA, 0x55, 0x7F, 0x5A, 0xC3, 0x13, 0x37, 0x42,
	0x00, 0x01, 0x7E, 0x80, 0xCC, 0x33, 0x3F, 0xF0, 0x0F,
}

const (
	maxShift    = 7
	maxRotation = 13
)

// Bank is an ordered list of transforms. Order matters: when two
// transforms produce the same text with the same score the earlier one is
// reported.
type Bank []Transform

// DefaultBank returns a fresh copy of the stock trial order.
func DefaultBank() Bank {
	bank := Bank{newRaw(), newUTF16LE(), newNot()}
	for k := -maxShift; k <= maxShift; k++ {
		if k != 0 {
			bank = append(bank, NewAdd(k))
		}
	}
	for _, key := range XORKeys {
		bank = append(bank, NewXOR(key))
	}
	for r := 1; r <= maxRotation; r++ {
		bank = append(bank, NewRot(r))
	}
	return append(bank, newBase64())
}

// Names lists the transform names in bank order.
func (b Bank) Names() []string {
	names := make([]string, len(b))
	for i, tr := range b {
		names[i] = tr.Name()
	}
	return names
}

// Without returns the bank minus the named transforms, keeping order.
func (b Bank) Without(names ...string) Bank {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[n] = struct{}{}
	}
	out := make(Bank, 0, len(b))
	for _, tr := range b {
		if _, ok := skip[tr.Name()]; !ok {
			out = append(out, tr)
		}
	}
	return out
}
