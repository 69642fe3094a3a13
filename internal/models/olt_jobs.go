package models

// Queue names of the OLT pipeline
const (
	QueueRunCommand   = "runCommand"
	QueueReinstallOnu = "reinstallOnu"
	QueueRebootOnu    = "rebootOnu"
	QueueSyncOlt      = "syncOlt"
	QueueUncfgScan    = "getingUncfg"
	QueueIntegration  = "integration"
)

// OltQueues lists every queue the pipeline creates
var OltQueues = []string{
	QueueRunCommand,
	QueueReinstallOnu,
	QueueRebootOnu,
	QueueSyncOlt,
	QueueUncfgScan,
	QueueIntegration,
}

// Notification categories
const (
	CategoryCreateOnu    = "create-onu"
	CategoryDeleteOnu    = "delete-onu"
	CategoryReinstallOnu = "reinstall-onu"
	CategoryRebootOnu    = "reboot-onu"
	CategoryRunCommand   = "run-command"
	CategoryGetSlot      = "get-slot"
	CategorySyncTcont    = "sync-tcont"
	CategoryGetTraffic   = "get-traffic"
	CategoryGetVlan      = "get-vlan"
)

// SyncKind selects which device table a sync job reads
type SyncKind string

const (
	SyncSlot    SyncKind = "slot"
	SyncTcont   SyncKind = "tcont"
	SyncTraffic SyncKind = "traffic"
	SyncVlan    SyncKind = "vlan"
)

// RunCommandPayload is a raw command batch against one OLT. Credentials are
// resolved from the inventory when the job runs and never stored in the queue.
type RunCommandPayload struct {
	OltSlug  string   `json:"olt_slug" validate:"required"`
	Commands []string `json:"commands" validate:"required,min=1,dive,required"`
	Debug    bool     `json:"debug"`

	// Action and Target label the operation in the finishing notification
	Action string `json:"action"`
	Target string `json:"target,omitempty"`

	// RequireSuccess fails the job unless the device printed .[Successful]
	RequireSuccess bool `json:"require_success"`

	// SaveOnu is stored after a successful run; RemoveOnuID is deleted
	SaveOnu     *Onu   `json:"save_onu,omitempty"`
	RemoveOnuID string `json:"remove_onu_id,omitempty"`
}

// ReinstallOnuPayload rebinds an existing ONU record to a (possibly new) serial and port
type ReinstallOnuPayload struct {
	OltSlug         string `json:"olt_slug" validate:"required"`
	OnuID           string `json:"onu_id" validate:"required"`
	SerialNumber    string `json:"sn" validate:"required"`
	OdcNumber       int    `json:"odc_number" validate:"required,min=1,max=32"`
	SubsID          string `json:"subs_id" validate:"required"`
	CustomerName    string `json:"customer_name" validate:"required"`
	Vlan            int    `json:"vlan" validate:"required,min=1,max=4094"`
	VlanProfile     string `json:"vlan_profile" validate:"required"`
	Speed           int    `json:"speed" validate:"required,min=1"`
	NetworkPassword string `json:"network_password" validate:"required"`
	Debug           bool   `json:"debug"`
}

// RebootOnuPayload reboots one ONU
type RebootOnuPayload struct {
	OltSlug  string `json:"olt_slug" validate:"required"`
	OnuID    string `json:"onu_id" validate:"required"`
	OnuIndex string `json:"onu_index" validate:"required"`
	OnuName  string `json:"onu_name"`
}

// SyncOltPayload reads one device table into the OLT snapshot
type SyncOltPayload struct {
	OltSlug string   `json:"olt_slug" validate:"required"`
	Kind    SyncKind `json:"kind" validate:"required,oneof=slot tcont traffic vlan"`
}

// IntegrationMessage is delivered to the downstream webhook after an ONU change
type IntegrationMessage struct {
	Category string `json:"category" validate:"required"`
	SlugOlt  string `json:"slug_olt" validate:"required"`
	ID       string `json:"id" validate:"required"`
}
