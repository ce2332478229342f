package ziptype

import "time"

// DOS date/time cannot represent anything before 1980.
var dosEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// PackDOSTime converts t to the MS-DOS format, date in the high 16 bits and
// time in the low 16 bits. Seconds are stored with 2 second resolution.
func PackDOSTime(t time.Time) uint32 {
	if t.IsZero() || t.Before(dosEpoch) {
		t = dosEpoch
	}
	if t.Year() > 2107 {
		t = time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
	}
	date := uint32(t.Year()-1980)<<9 | uint32(t.Month())<<5 | uint32(t.Day())     //nolint:gosec // year range clamped above
	clock := uint32(t.Hour())<<11 | uint32(t.Minute())<<5 | uint32(t.Second()/2) //nolint:gosec // components are small and non-negative
	return date<<16 | clock
}

// UnpackDOSTime converts a packed MS-DOS date/time to a time in loc.
func UnpackDOSTime(v uint32, loc *time.Location) time.Time {
	date := v >> 16
	clock := v & 0xffff
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(clock>>11),
		int(clock>>5&0x3f),
		int(clock&0x1f)*2,
		0,
		loc,
	)
}
