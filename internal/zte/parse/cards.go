package parse

import (
	"strings"

	"github.com/ternarybob/fibercore/internal/models"
)

// cardColumns is the "show card" header, in order
var cardColumns = []string{"rack", "shelf", "slot", "cfgtype", "realtype", "port", "hardver", "softver", "status"}

// Cards parses "show card":
//
//	Rack Shelf Slot CfgType RealType Port  HardVer SoftVer         Status
//	-------------------------------------------------------------------------------
//	1    1     2    GTGO    GTGO     8     V1.2.0  V2.1.0          INSERVICE
//	1    1     5    GTGH             16                            OFFLINE
//
// A full row has one value per column. An offline card has no RealType,
// HardVer or SoftVer, leaving six values: rack shelf slot cfgtype port status.
func Cards(output string) ([]models.CardSlot, error) {
	var header []string
	cards := []models.CardSlot{}

	for _, line := range lines(output) {
		if line == "" || isSeparator(line) || isPrompt(line) {
			continue
		}
		fields := strings.Fields(line)

		if header == nil {
			if strings.EqualFold(fields[0], "Rack") {
				header = make([]string, len(fields))
				for i, f := range fields {
					header[i] = strings.ToLower(f)
				}
				if !sameColumns(header, cardColumns) {
					return nil, &FormatError{Format: "card", Line: line, Reason: "unexpected columns"}
				}
			}
			continue
		}

		switch {
		case len(fields) == len(header):
			values := make(map[string]string, len(header))
			for i, column := range header {
				values[column] = fields[i]
			}
			cards = append(cards, models.CardSlot{
				Rack:     values["rack"],
				Shelf:    values["shelf"],
				Slot:     values["slot"],
				CfgType:  values["cfgtype"],
				RealType: values["realtype"],
				Port:     values["port"],
				HardVer:  values["hardver"],
				SoftVer:  values["softver"],
				Status:   values["status"],
			})

		case len(fields) == 6:
			cards = append(cards, models.CardSlot{
				Rack:    fields[0],
				Shelf:   fields[1],
				Slot:    fields[2],
				CfgType: fields[3],
				Port:    fields[4],
				Status:  fields[5],
			})

		default:
			return nil, &FormatError{Format: "card", Line: line, Reason: "unexpected column count"}
		}
	}

	if header == nil {
		return nil, &FormatError{Format: "card", Reason: "no table header found"}
	}
	return cards, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
