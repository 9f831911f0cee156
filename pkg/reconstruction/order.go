package reconstruction

import (
	"fmt"
	"sort"
	"strings"

	"mrivolumes/internal/models"
	"mrivolumes/pkg/config"
)

// SortFiles orders the files of a series in place.
//
// path sorts lexicographically by full path. Without zero padding this puts
// 10.dcm before 2.dcm, which is why natural and instance exist.
// natural compares runs of digits numerically.
// instance uses the InstanceNumber tag, falling back to the path; files
// without the tag come last.
func SortFiles(files []models.RawSliceFile, order string) error {
	switch order {
	case "", config.OrderPath:
		sort.SliceStable(files, func(i, j int) bool {
			return files[i].Path < files[j].Path
		})
	case config.OrderNatural:
		sort.SliceStable(files, func(i, j int) bool {
			return naturalLess(files[i].Path, files[j].Path)
		})
	case config.OrderInstance:
		sort.SliceStable(files, func(i, j int) bool {
			a, b := files[i], files[j]
			if a.HasInstance != b.HasInstance {
				return a.HasInstance
			}
			if a.HasInstance && a.InstanceNumber != b.InstanceNumber {
				return a.InstanceNumber < b.InstanceNumber
			}
			return a.Path < b.Path
		})
	default:
		return fmt.Errorf("unknown sort order %q", order)
	}
	return nil
}

// naturalLess compares two strings treating every run of digits as a number,
// so that slice2 sorts before slice10.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := chunk(a), chunk(b)
		a, b = a[len(ca):], b[len(cb):]

		if isDigit(ca[0]) && isDigit(cb[0]) {
			na := strings.TrimLeft(ca, "0")
			nb := strings.TrimLeft(cb, "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			// equal value, fewer leading zeros first
			if len(ca) != len(cb) {
				return len(ca) < len(cb)
			}
			continue
		}
		if ca != cb {
			return ca < cb
		}
	}
	return len(a) < len(b)
}

// chunk returns the leading run of s that is either all digits or all non-digits.
func chunk(s string) string {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
