package parse

import (
	"regexp"
	"strings"

	"github.com/ternarybob/fibercore/internal/models"
)

// onuIndexPattern matches the first column of an uncfg row
var onuIndexPattern = regexp.MustCompile(`^gpon-onu_\d+/\d+/\d+:\d+$`)

// Uncfg parses "show gpon onu uncfg":
//
//	OnuIndex                 Sn                  State
//	---------------------------------------------------------------------
//	gpon-onu_1/2/1:1         ZTEGC8F7B2D1        unknown
//
// Rows are "<gpon-onu index> <serial> [state]". Prompt echoes and
// configuration chatter around the table are ignored.
func Uncfg(output string) ([]models.UnconfiguredOnu, error) {
	if IsEmpty(output) {
		return []models.UnconfiguredOnu{}, nil
	}

	rows := []models.UnconfiguredOnu{}
	sawHeader := false
	for _, line := range lines(output) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], "OnuIndex") {
			sawHeader = true
			continue
		}
		if !onuIndexPattern.MatchString(fields[0]) {
			continue
		}
		if len(fields) < 2 {
			return nil, &FormatError{Format: "uncfg", Line: line, Reason: "row has no serial number"}
		}

		row := models.UnconfiguredOnu{
			OnuIndex:     strings.TrimPrefix(fields[0], "gpon-onu_"),
			SerialNumber: fields[1],
		}
		if len(fields) > 2 {
			row.State = fields[2]
		}
		rows = append(rows, row)
	}

	if !sawHeader && len(rows) == 0 {
		return nil, &FormatError{Format: "uncfg", Reason: "no table header found"}
	}
	return rows, nil
}

// ContainsSerial reports whether serial is among rows, ignoring case
func ContainsSerial(rows []models.UnconfiguredOnu, serial string) bool {
	for _, row := range rows {
		if strings.EqualFold(row.SerialNumber, serial) {
			return true
		}
	}
	return false
}
