// Package format renders sizes and ratios for notifications and CLI output.
package format

import "fmt"

// Binary size units. nvidia-smi and the PyTorch allocator both count in
// these, so output carries the matching IEC suffixes.
const (
	KB = 1024
	MB = KB * 1024
	GB = MB * 1024
	TB = GB * 1024
)

var units = []struct {
	size   int64
	suffix string
}{
	{TB, "TiB"},
	{GB, "GiB"},
	{MB, "MiB"},
	{KB, "KiB"},
}

// Bytes renders b with one decimal in the largest unit it fills,
// e.g. "3.0 GiB" or "512.0 MiB". Values under 1 KiB are exact.
func Bytes(b int64) string {
	if b < 0 {
		return "-" + Bytes(-b)
	}
	for _, u := range units {
		if b >= u.size {
			return fmt.Sprintf("%.1f %s", float64(b)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// Usage renders "used / total (pct%)" with a whole-number percentage.
// A zero total yields just the used amount.
func Usage(used, total int64) string {
	if total <= 0 {
		return Bytes(used)
	}
	return fmt.Sprintf("%s / %s (%d%%)", Bytes(used), Bytes(total), used*100/total)
}

// Percent formats a 0..1 ratio as a percentage with one decimal.
func Percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
