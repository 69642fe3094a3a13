package models

import (
	"strings"
	"time"
)

// Olt is an inventory entry for one Optical Line Terminal
type Olt struct {
	Slug     string `json:"slug" toml:"slug" badgerhold:"key" validate:"required"`
	Name     string `json:"name" toml:"name" validate:"required"`
	Host     string `json:"host" toml:"host" validate:"required"`
	Port     int    `json:"port,omitempty" toml:"port"`
	Username string `json:"username" toml:"username" validate:"required"`
	Password string `json:"-" toml:"password" validate:"required"`
	Cipher   string `json:"cipher,omitempty" toml:"cipher"`
	Brand    string `json:"brand" toml:"brand"` // e.g. "olt-zte-c320"
	Type     string `json:"type" toml:"type"`   // e.g. "gpon"
}

// Credentials are the session parameters the transport needs
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
	Cipher   string
}

// Credentials returns the transport credentials for this OLT
func (o *Olt) Credentials() Credentials {
	return Credentials{
		Host:     o.Host,
		Port:     o.Port,
		Username: o.Username,
		Password: o.Password,
		Cipher:   o.Cipher,
	}
}

// IsC320Gpon reports whether the OLT takes part in the unconfigured ONU scan
func (o *Olt) IsC320Gpon() bool {
	return strings.EqualFold(o.Brand, "olt-zte-c320") && strings.EqualFold(o.Type, "gpon")
}

// Onu is the provisioning record of one subscriber ONU
type Onu struct {
	ID           string    `json:"id" badgerhold:"key"`
	OltSlug      string    `json:"olt_slug" badgerhold:"index"`
	OnuIndex     string    `json:"onu_index"` // "1/{slot}/{port}:{n}"
	OnuNumber    int       `json:"onu_number"`
	SerialNumber string    `json:"serial_number"`
	SubsID       string    `json:"subs_id"`
	CustomerName string    `json:"customer_name"`
	OnuName      string    `json:"onu_name"`
	Vlan         int       `json:"vlan"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CardSlot is one row of "show card"
type CardSlot struct {
	Rack     string `json:"rack" yaml:"rack"`
	Shelf    string `json:"shelf" yaml:"shelf"`
	Slot     string `json:"slot" yaml:"slot"`
	CfgType  string `json:"cfgtype" yaml:"cfgtype"`
	RealType string `json:"realtype,omitempty" yaml:"realtype"`
	Port     string `json:"port" yaml:"port"`
	HardVer  string `json:"hardver,omitempty" yaml:"hardver"`
	SoftVer  string `json:"softver,omitempty" yaml:"softver"`
	Status   string `json:"status" yaml:"status"`
}

// IsGponInService reports whether the card is an in-service GPON line card
func (c CardSlot) IsGponInService() bool {
	return c.Status == "INSERVICE" && (c.CfgType == "GTGO" || c.CfgType == "GTGH")
}

// Profile is a named device profile whose attributes were zipped from a header row and a value row
type Profile struct {
	Name       string            `json:"name" yaml:"name"`
	Attributes map[string]string `json:"attributes" yaml:"attributes"`
}

// UnconfiguredOnu is a physically detected ONU not yet bound to a service profile
type UnconfiguredOnu struct {
	OnuIndex     string `json:"onu_index" yaml:"onu_index"`
	SerialNumber string `json:"serial_number" yaml:"serial_number"`
	State        string `json:"state,omitempty" yaml:"state"`
}

// OltSnapshot holds the last synchronized device state of one OLT
type OltSnapshot struct {
	Slug            string            `json:"slug" badgerhold:"key"`
	Slots           []CardSlot        `json:"slots"`
	Tcont           []Profile         `json:"tcont"`
	Traffic         []Profile         `json:"traffic"`
	Vlan            []Profile         `json:"vlan"`
	Unconfigured    []UnconfiguredOnu `json:"unconfigured"`
	SlotsSyncedAt   *time.Time        `json:"slots_synced_at,omitempty"`
	ProfileSyncedAt *time.Time        `json:"profile_synced_at,omitempty"`
	UncfgScannedAt  *time.Time        `json:"uncfg_scanned_at,omitempty"`
}

// GponSlots returns the in-service GPON cards
func (s *OltSnapshot) GponSlots() []CardSlot {
	var out []CardSlot
	for _, slot := range s.Slots {
		if slot.IsGponInService() {
			out = append(out, slot)
		}
	}
	return out
}
