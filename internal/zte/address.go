// Package zte builds ZTE C320 GPON CLI command batches.
package zte

import (
	"fmt"
	"strconv"
	"strings"
)

// OnuAddress locates one ONU on the chassis: rack 1, slot, PON port and ONU number
type OnuAddress struct {
	Slot   int `json:"slot" validate:"required,min=1"`
	Port   int `json:"port" validate:"required,min=1"`
	Number int `json:"number" validate:"required,min=1,max=128"`
}

// String returns the ONU index in device notation, 1/{slot}/{port}:{n}
func (a OnuAddress) String() string {
	return fmt.Sprintf("1/%d/%d:%d", a.Slot, a.Port, a.Number)
}

// Interface returns the gpon-onu interface name
func (a OnuAddress) Interface() string {
	return "gpon-onu_" + a.String()
}

// OltInterface returns the gpon-olt interface owning the ONU
func (a OnuAddress) OltInterface() string {
	return fmt.Sprintf("gpon-olt_1/%d/%d", a.Slot, a.Port)
}

// ParseOnuIndex parses "1/{slot}/{port}:{n}", with or without the gpon-onu_ prefix
func ParseOnuIndex(index string) (OnuAddress, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(index), "gpon-onu_")

	path, number, ok := strings.Cut(raw, ":")
	if !ok {
		return OnuAddress{}, fmt.Errorf("invalid onu index %q: missing onu number", index)
	}

	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return OnuAddress{}, fmt.Errorf("invalid onu index %q: expected rack/slot/port", index)
	}

	values := make([]int, 0, 3)
	for _, part := range []string{parts[1], parts[2], number} {
		v, err := strconv.Atoi(part)
		if err != nil || v < 1 {
			return OnuAddress{}, fmt.Errorf("invalid onu index %q: bad component %q", index, part)
		}
		values = append(values, v)
	}

	return OnuAddress{Slot: values[0], Port: values[1], Number: values[2]}, nil
}

// MaxOdcNumber is the last ODC the two 16-port cards can serve
const MaxOdcNumber = 32

// SlotPort maps an ODC number onto the chassis layout: 1-16 sit on slot 1 at
// that port, 17 and above on slot 2 at port odc-16. Numbers outside
// 1..MaxOdcNumber have no port and return an error.
func SlotPort(odcNumber int) (slot, port int, err error) {
	if odcNumber < 1 || odcNumber > MaxOdcNumber {
		return 0, 0, fmt.Errorf("invalid odc number %d: must be between 1 and %d", odcNumber, MaxOdcNumber)
	}
	if odcNumber <= 16 {
		return 1, odcNumber, nil
	}
	return 2, odcNumber - 16, nil
}

// SpeedTier maps a subscriber speed in Mbps onto the traffic profile tier.
// Speeds outside every bucket pass through unchanged.
func SpeedTier(speed int) int {
	switch {
	case speed >= 5 && speed <= 10:
		return 30
	case speed >= 20 && speed <= 30:
		return 50
	case speed >= 40 && speed <= 80:
		return 100
	default:
		return speed
	}
}
