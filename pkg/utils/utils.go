package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	// PhysicalDrivePrefix is the raw device namespace of Windows disks.
	PhysicalDrivePrefix = `\\.\PhysicalDrive`
	// DevPrefix is the device directory on Unix hosts.
	DevPrefix = "/dev/"
)

// GetFullDevPath will return full path with `/dev/` prefix
func GetFullDevPath(shortPath string) string {
	if shortPath == "" {
		return ""
	}
	if strings.HasPrefix(shortPath, DevPrefix) {
		return shortPath
	}
	return DevPrefix + shortPath
}

// GetPhysicalDrivePath returns the raw Windows device path of disk index.
func GetPhysicalDrivePath(index int) string {
	return fmt.Sprintf("%s%d", PhysicalDrivePrefix, index)
}

var physicalDriveRegexp = regexp.MustCompile(`(?i)^\\\\\.\\PhysicalDrive(\d+)$`)

// PhysicalDriveIndex extracts N from a `\\.\PhysicalDriveN` device path.
func PhysicalDriveIndex(devicePath string) (int, bool) {
	m := physicalDriveRegexp.FindStringSubmatch(strings.TrimSpace(devicePath))
	if m == nil {
		return 0, false
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return index, true
}

// VolumeRoot returns the root directory of a drive letter, e.g. `U:\`.
func VolumeRoot(letter string) string {
	return strings.ToUpper(letter) + `:\`
}

// IsDriveLetter reports whether s is a single letter A-Z.
func IsDriveLetter(s string) bool {
	if len(s) != 1 {
		return false
	}
	r := rune(s[0])
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}

// MatchesIgnoredCase checks if the item of string slice fully match the key with case-insensitive
func MatchesIgnoredCase(s []string, k string) bool {
	for _, e := range s {
		if strings.EqualFold(e, k) {
			return true
		}
	}
	return false
}

// ContainsIgnoredCase checks if the item of string slice contains the key with case-insensitive
func ContainsIgnoredCase(s []string, k string) bool {
	k = strings.ToLower(k)
	for _, e := range s {
		if strings.Contains(k, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// CompactOutput flattens multi-line tool output into a single line for
// error messages and logs.
func CompactOutput(out []byte) string {
	lines := strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, " ")
}

// SplitCSV splits a comma-separated flag value, dropping empty items.
func SplitCSV(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
