package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxPositionByte = 255

// PositionAsByte maps a position in percent (100 is fully open) to the hub's
// raw position, where 0 is fully open and 255 is fully closed.
//
// Clamps if the value is too small or too big.
//
// Examples:
//
// * 100 -> 0
//
// * 50 -> 128
//
// * 0 -> 255
func PositionAsByte(percent int) int {
	percent = clamp(percent, 0, 100)

	return int(math.Round(float64(100-percent) * maxPositionByte / 100))
}

// ByteAsPosition is the inverse of [PositionAsByte]. Round trips are exact
// within ±1 because of rounding.
func ByteAsPosition(raw int) int {
	raw = clamp(raw, 0, maxPositionByte)

	return int(math.Round(100 - float64(raw)*100/maxPositionByte))
}

// EncodeTemperature encodes value in °C to the set point expected by
// [Client.SetTemperature], expressed in tenths of a degree.
//
// Examples:
//
// * 21.5 -> 215
//
// * 19 -> 190
func EncodeTemperature(value float64) int {
	return int(math.Round(value * 10))
}

// DecodeTemperature converts a temperature reported by the hub, in tenths of
// a degree, to °C.
//
// Examples:
//
// * "215" -> 21.5
//
// * "-15" -> -1.5
func DecodeTemperature(value string) (float64, error) {
	v := strings.TrimSpace(value)
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse int from %q: %v", value, err)
	}

	return float64(parsed) / 10, nil
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	} else if v > high {
		return high
	}

	return v
}
