package extra

import "time"

// Number of 100ns intervals between 1601-01-01 and 1970-01-01.
const ntfsEpochOffset = 116444736000000000

// TicksToTime converts Windows FILETIME ticks to a UTC time.
func TicksToTime(ticks uint64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	d := int64(ticks) - ntfsEpochOffset //nolint:gosec // tick values above 2^63 are not valid FILETIMEs
	return time.Unix(d/1e7, (d%1e7)*100).UTC()
}

// TimeToTicks converts t to Windows FILETIME ticks. The zero time maps to 0.
func TimeToTicks(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix()*1e7+int64(t.Nanosecond()/100)) + ntfsEpochOffset //nolint:gosec // times before 1601 are not representable
}

// UnixToTime converts 32-bit Unix seconds to a UTC time.
func UnixToTime(secs uint32) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}

// TimeToUnix converts t to 32-bit Unix seconds, clamping to the representable range.
func TimeToUnix(t time.Time) uint32 {
	s := t.Unix()
	switch {
	case t.IsZero() || s < 0:
		return 0
	case s > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(s)
}
