// Package rotation implements round-robin cursor advancement over clip lists.
package rotation

// Next returns the element at the cursor and the advanced cursor position.
// A cursor that drifted out of range (list edited since it was stored) is
// reset to 0 before use. An empty list yields ok=false and an unchanged
// cursor.
func Next(ids []int64, index int) (id int64, next int, ok bool) {
	if len(ids) == 0 {
		return 0, index, false
	}
	if index < 0 || index >= len(ids) {
		index = 0
	}
	return ids[index], (index + 1) % len(ids), true
}

// Clamp normalizes a stored cursor against a list of length n.
// Out-of-range cursors reset to 0; n == 0 pins the cursor at 0.
func Clamp(index, n int) int {
	if n <= 0 || index < 0 || index >= n {
		return 0
	}
	return index
}
