package market

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
	secondsPerDay    = 86400
)

// SecondsToTFString maps a whole number of seconds onto a timeframe label.
func SecondsToTFString(sec int32) (string, error) {
	if sec <= 0 {
		return "", fmt.Errorf("invalid timeframe seconds: %d", sec)
	}

	switch {
	case sec < secondsPerMinute:
		return fmt.Sprintf("S%d", sec), nil
	case sec < secondsPerHour && sec%secondsPerMinute == 0:
		return fmt.Sprintf("M%d", sec/secondsPerMinute), nil
	case sec < secondsPerDay && sec%secondsPerHour == 0:
		return fmt.Sprintf("H%d", sec/secondsPerHour), nil
	case sec%secondsPerDay == 0:
		days := sec / secondsPerDay
		if days == 7 {
			return "W1", nil
		}
		if days == 30 {
			return "MN1", nil
		}
		return fmt.Sprintf("D%d", days), nil
	}

	return "", fmt.Errorf("cannot map timeframe: %d seconds", sec)
}

// TFStringToSeconds is the inverse of SecondsToTFString.
func TFStringToSeconds(tf string) (int32, error) {
	switch tf {
	case "W1":
		return 7 * secondsPerDay, nil
	case "MN1":
		return 30 * secondsPerDay, nil
	}
	if len(tf) < 2 {
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}

	var unit int32
	switch tf[0] {
	case 'S':
		unit = 1
	case 'M':
		unit = secondsPerMinute
	case 'H':
		unit = secondsPerHour
	case 'D':
		unit = secondsPerDay
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(tf[1:]), 10, 32)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
	return int32(n) * unit, nil
}
