package zte

import (
	"fmt"
	"strings"
)

// Device CLI markers
const (
	// SuccessMarker is printed by the device after an accepted configuration command
	SuccessMarker = ".[Successful]"

	// NoInformationMarker is printed by show commands with an empty result
	NoInformationMarker = "No related information to show."
)

// Show commands
const (
	ShowUncfg   = "show gpon onu uncfg"
	ShowCard    = "show card"
	ShowTcont   = "show gpon profile tcont"
	ShowTraffic = "show gpon profile traffic"
	ShowVlan    = "show gpon onu profile vlan"
)

// Provisioning describes a subscriber ONU to bind to a PON port
type Provisioning struct {
	Address         OnuAddress
	SerialNumber    string
	SubsID          string
	CustomerName    string
	Vlan            int
	VlanProfile     string
	Speed           int
	NetworkPassword string
}

// OnuName returns the name written to the ONU interface
func OnuName(subsID, customerName string) string {
	return fmt.Sprintf("%s - %s", subsID, strings.ToUpper(customerName))
}

// DeleteOnuCommands removes an ONU from its PON port
func DeleteOnuCommands(addr OnuAddress) []string {
	return []string{
		"conf t",
		"interface " + addr.OltInterface(),
		fmt.Sprintf("no onu %d", addr.Number),
	}
}

// ProvisionOnuCommands binds a serial to the address and configures the
// tcont, gemport, service port, PPPoE WAN and web management as one batch
func ProvisionOnuCommands(p Provisioning) []string {
	tier := SpeedTier(p.Speed)
	customer := strings.ToUpper(p.CustomerName)
	addr := p.Address

	return []string{
		"conf t",
		"interface " + addr.OltInterface(),
		fmt.Sprintf("onu %d type ZTE sn %s", addr.Number, p.SerialNumber),
		"!",
		"interface " + addr.Interface(),
		"name " + OnuName(p.SubsID, p.CustomerName),
		fmt.Sprintf("description CUSTOMER %s %s", p.VlanProfile, customer),
		fmt.Sprintf("tcont 1 name %s profile %dM", p.VlanProfile, tier),
		fmt.Sprintf("gemport 1 name %s tcont 1", p.VlanProfile),
		fmt.Sprintf("gemport 1 traffic-limit upstream %dM downstream %dM", tier, tier),
		fmt.Sprintf("service-port 1 vport 1 user-vlan %d vlan %d", p.Vlan, p.Vlan),
		"!",
		"pon-onu-mng " + addr.Interface(),
		fmt.Sprintf("service 1 gemport 1 vlan %d", p.Vlan),
		fmt.Sprintf("wan-ip 1 mode pppoe username %s password %s vlan-profile %s host 1", p.SubsID, p.NetworkPassword, p.VlanProfile),
		"security-mgmt 1 state enable mode forward protocol web",
	}
}

// RebootOnuCommands reboots an ONU; the device asks [yes/no] which the transport answers
func RebootOnuCommands(addr OnuAddress) []string {
	return []string{
		"conf t",
		"pon-onu-mng " + addr.Interface(),
		"reboot",
	}
}

// ShowUncfgCommands lists physically present but unprovisioned ONUs
func ShowUncfgCommands() []string {
	return []string{ShowUncfg}
}

// ShowCardCommands lists chassis cards
func ShowCardCommands() []string {
	return []string{ShowCard}
}

// ShowTcontCommands lists tcont profiles
func ShowTcontCommands() []string {
	return []string{ShowTcont}
}

// ShowTrafficCommands lists traffic profiles
func ShowTrafficCommands() []string {
	return []string{ShowTraffic}
}

// ShowVlanCommands lists ONU vlan profiles
func ShowVlanCommands() []string {
	return []string{ShowVlan}
}
