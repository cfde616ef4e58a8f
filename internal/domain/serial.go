package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SerialRecord is the persisted outcome of ingestion: one serial number
// attributed to the factory that uploaded it.
type SerialRecord struct {
	SerialNumber   string
	ProductionDate time.Time
	// Provenance is the factory name the upload was verified against.
	Provenance string
}

var serialPattern = regexp.MustCompile(`^[A-Z0-9-]{5,20}$`)

// NormalizeSerial uppercases and trims a caller-supplied serial and
// validates it against the fixed prefixed-alphanumeric pattern. Validation
// happens before any lookup.
func NormalizeSerial(raw string) (string, error) {
	serial := strings.ToUpper(strings.TrimSpace(raw))
	if !serialPattern.MatchString(serial) {
		return "", ErrInvalidSerial
	}
	return serial, nil
}

const serialPrefix = "K1S"

// BuildSerial constructs the final serial number from a device id and the
// WWYY production code, e.g. device A001 with WWYY 4023 -> K1S-A001-FB7.
func BuildSerial(deviceID string, wwyy int) string {
	return fmt.Sprintf("%s-%s-%s", serialPrefix, deviceID, strings.ToUpper(strconv.FormatInt(int64(wwyy), 16)))
}

// WWYYToDate converts a decimal WWYY production code (two-digit week, then
// two-digit year offset from 2000) to the Monday of that week.
func WWYYToDate(wwyy int) (time.Time, error) {
	if wwyy < 0 || wwyy > 9999 {
		return time.Time{}, fmt.Errorf("wwyy out of range: %d", wwyy)
	}
	week := wwyy / 100
	year := 2000 + wwyy%100
	if week < 1 || week > 53 {
		return time.Time{}, fmt.Errorf("invalid week in wwyy: %d", wwyy)
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	daysUntilMonday := (8 - int(jan1.Weekday())) % 7
	firstMonday := jan1.AddDate(0, 0, daysUntilMonday)
	return firstMonday.AddDate(0, 0, (week-1)*7), nil
}
