package peerlink

import (
	"strconv"
	"time"
)

// formatNow and parseTime encode a timestamp as a decimal unix-nanosecond
// string, the simplest value that survives the header wire format without
// escaping.
func formatNow() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

func parseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}
