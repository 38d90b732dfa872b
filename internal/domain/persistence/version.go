package persistence

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the major.minor.patch tag stored next to a durable image.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "major.minor.patch". A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor.patch", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether an image written under the stored tag can be
// mounted by current. Only the minor component is compared: patch bumps
// keep the image, minor bumps discard it. An empty or unparsable stored tag
// is never compatible.
func Compatible(stored string, current Version) bool {
	if stored == "" {
		return false
	}
	v, err := ParseVersion(stored)
	if err != nil {
		return false
	}
	return v.Minor == current.Minor
}
