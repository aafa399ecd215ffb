package frame

import "fmt"

// PatternFrame returns n bytes where byte i is i%256. The vision board
// serves it when no camera is attached and frametest verifies it.
func PatternFrame(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// VerifyPattern checks that b matches PatternFrame(len(b)).
func VerifyPattern(b []byte) error {
	for i, v := range b {
		if v != byte(i) {
			return fmt.Errorf("pattern mismatch at byte %d: got 0x%02x, want 0x%02x", i, v, byte(i))
		}
	}
	return nil
}
