package parse

import (
	"regexp"
	"strings"

	"github.com/ternarybob/fibercore/internal/models"
)

// profileName matches "Profile name :NAME" and "Profile name  :NAME"
var profileName = regexp.MustCompile(`^Profile name\s*:\s*(\S.*)$`)

// Tcont parses "show gpon profile tcont". Each profile is a three line block:
//
//	Profile name :UP-1G
//	Type   FBW(kbps)  AFW(kbps)  MBW(kbps)
//	4      0          0          1024000
func Tcont(output string) ([]models.Profile, error) {
	return headerValueBlocks("tcont", output)
}

// Traffic parses "show gpon profile traffic"; same block layout as tcont:
//
//	Profile name  :SMARTOLT-100M
//	CIR(kbps)  CBS(bytes)  PIR(kbps)  PBS(bytes)
//	102400     0           102400     0
func Traffic(output string) ([]models.Profile, error) {
	return headerValueBlocks("traffic", output)
}

// headerValueBlocks zips the header row with the value row that follows each profile name
func headerValueBlocks(format, output string) ([]models.Profile, error) {
	profiles := []models.Profile{}
	all := lines(output)

	for i := 0; i < len(all); i++ {
		m := profileName.FindStringSubmatch(all[i])
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])

		header, next := nextNonEmpty(all, i+1)
		values, after := nextNonEmpty(all, next+1)
		if header == "" || values == "" {
			return nil, &FormatError{Format: format, Line: all[i], Reason: "profile block is truncated"}
		}

		keys := strings.Fields(header)
		vals := strings.Fields(values)
		if len(keys) != len(vals) {
			return nil, &FormatError{Format: format, Line: values, Reason: "value count does not match header"}
		}

		attributes := make(map[string]string, len(keys))
		for k, key := range keys {
			attributes[key] = vals[k]
		}
		profiles = append(profiles, models.Profile{Name: name, Attributes: attributes})
		i = after
	}

	return profiles, nil
}

// nextNonEmpty returns the first non-empty line at or after i and its position
func nextNonEmpty(all []string, i int) (string, int) {
	for ; i < len(all); i++ {
		if all[i] != "" {
			if profileName.MatchString(all[i]) || isPrompt(all[i]) {
				return "", i
			}
			return all[i], i
		}
	}
	return "", i
}

// Vlan parses "show gpon onu profile vlan". Each profile is a run of
// "key: value" lines from "Profile name:" through "CVLAN priority:":
//
//	Profile name:     VLAN220
//	Tag mode:         tag
//	CVLAN:            220
//	CVLAN priority:   0
//
// Keys are lowercased with spaces replaced by underscores.
func Vlan(output string) ([]models.Profile, error) {
	profiles := []models.Profile{}
	var current *models.Profile

	for _, line := range lines(output) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Join(strings.Fields(key), "_"))
		value = strings.TrimSpace(value)

		if key == "profile_name" {
			if current != nil {
				return nil, &FormatError{Format: "vlan", Line: line, Reason: "profile started before previous one ended"}
			}
			current = &models.Profile{Name: value, Attributes: map[string]string{}}
			continue
		}
		if current == nil {
			continue
		}

		current.Attributes[key] = value
		if key == "cvlan_priority" {
			profiles = append(profiles, *current)
			current = nil
		}
	}

	if current != nil {
		return nil, &FormatError{Format: "vlan", Reason: "profile " + current.Name + " is missing CVLAN priority"}
	}
	return profiles, nil
}
