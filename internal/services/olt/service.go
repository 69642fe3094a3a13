package olt

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	"github.com/ternarybob/fibercore/internal/zte"
)

// ErrEnqueue wraps queue store failures so callers can answer 503
var ErrEnqueue = errors.New("failed to enqueue job")

// ErrInvalidRequest marks a request rejected before anything was enqueued
var ErrInvalidRequest = errors.New("invalid request")

// Submission is the handle returned for an accepted device operation
type Submission struct {
	Job          *models.Job          `json:"job"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Service turns device operations into notification-tracked queue jobs
type Service struct {
	inventory     *Inventory
	onus          interfaces.OnuStorage
	notifications *notifications.Service
	queues        *queue.Manager
	validate      *validator.Validate
	logger        arbor.ILogger
}

// NewService creates the OLT operation service
func NewService(
	inventory *Inventory,
	onus interfaces.OnuStorage,
	notificationService *notifications.Service,
	queues *queue.Manager,
	logger arbor.ILogger,
) *Service {
	return &Service{
		inventory:     inventory,
		onus:          onus,
		notifications: notificationService,
		queues:        queues,
		validate:      validator.New(),
		logger:        logger,
	}
}

// Inventory returns the OLT inventory
func (s *Service) Inventory() *Inventory {
	return s.inventory
}

// ListOnus returns the provisioning records of an OLT
func (s *Service) ListOnus(ctx context.Context, slug string) ([]*models.Onu, error) {
	if _, err := s.inventory.GetOlt(ctx, slug); err != nil {
		return nil, err
	}
	return s.onus.ListOnus(ctx, slug)
}

// ReinstallRequest is the API body for an ONU reinstall
type ReinstallRequest struct {
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

// ReinstallOnu deletes an ONU and provisions it again once the device reports it unconfigured
func (s *Service) ReinstallOnu(ctx context.Context, slug, onuID string, req ReinstallRequest) (*Submission, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid reinstall request: %w", err)
	}

	olt, err := s.inventory.GetOlt(ctx, slug)
	if err != nil {
		return nil, err
	}
	onu, err := s.onus.GetOnu(ctx, onuID)
	if err != nil {
		return nil, err
	}
	if onu.OltSlug != olt.Slug {
		return nil, fmt.Errorf("%w: onu %s is not on %s", interfaces.ErrOnuNotFound, onuID, slug)
	}

	payload := models.ReinstallOnuPayload{
		OltSlug:         olt.Slug,
		OnuID:           onu.ID,
		SerialNumber:    req.SerialNumber,
		OdcNumber:       req.OdcNumber,
		SubsID:          req.SubsID,
		CustomerName:    req.CustomerName,
		Vlan:            req.Vlan,
		VlanProfile:     req.VlanProfile,
		Speed:           req.Speed,
		NetworkPassword: req.NetworkPassword,
		Debug:           req.Debug,
	}

	return s.submit(ctx, models.QueueReinstallOnu, payload, queue.PolicyMutating(), notifications.CreateRequest{
		RefID:    fmt.Sprintf("%s-reinstall-onu-gpon-onu_%s", olt.Slug, onu.OnuIndex),
		Title:    fmt.Sprintf("Reinstall onu gpon-onu_%s on %s", onu.OnuIndex, olt.Name),
		Message:  fmt.Sprintf("Please wait, reinstall onu gpon-onu_%s on %s", onu.OnuIndex, olt.Name),
		Category: models.CategoryReinstallOnu,
	})
}

// CreateOnuRequest is the API body for provisioning a new ONU
type CreateOnuRequest struct {
	OdcNumber       int    `json:"odc_number" validate:"required,min=1,max=32"`
	OnuNumber       int    `json:"onu_number" validate:"required,min=1,max=128"`
	SerialNumber    string `json:"sn" validate:"required"`
	SubsID          string `json:"subs_id" validate:"required"`
	CustomerName    string `json:"customer_name" validate:"required"`
	Vlan            int    `json:"vlan" validate:"required,min=1,max=4094"`
	VlanProfile     string `json:"vlan_profile" validate:"required"`
	Speed           int    `json:"speed" validate:"required,min=1"`
	NetworkPassword string `json:"network_password" validate:"required"`
	Debug           bool   `json:"debug"`
}

// CreateOnu provisions a new ONU and stores its record once the batch ran
func (s *Service) CreateOnu(ctx context.Context, slug string, req CreateOnuRequest) (*Submission, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid create onu request: %w", err)
	}

	olt, err := s.inventory.GetOlt(ctx, slug)
	if err != nil {
		return nil, err
	}

	slot, port, err := zte.SlotPort(req.OdcNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	addr := zte.OnuAddress{Slot: slot, Port: port, Number: req.OnuNumber}

	payload := models.RunCommandPayload{
		OltSlug: olt.Slug,
		Commands: zte.ProvisionOnuCommands(zte.Provisioning{
			Address:         addr,
			SerialNumber:    req.SerialNumber,
			SubsID:          req.SubsID,
			CustomerName:    req.CustomerName,
			Vlan:            req.Vlan,
			VlanProfile:     req.VlanProfile,
			Speed:           req.Speed,
			NetworkPassword: req.NetworkPassword,
		}),
		Debug:  req.Debug,
		Action: models.CategoryCreateOnu,
		Target: addr.Interface(),
		SaveOnu: &models.Onu{
			ID:           common.NewOnuID(),
			OltSlug:      olt.Slug,
			OnuIndex:     addr.String(),
			OnuNumber:    addr.Number,
			SerialNumber: req.SerialNumber,
			SubsID:       req.SubsID,
			CustomerName: req.CustomerName,
			OnuName:      zte.OnuName(req.SubsID, req.CustomerName),
			Vlan:         req.Vlan,
		},
	}

	return s.submit(ctx, models.QueueRunCommand, payload, queue.PolicyMutating(), notifications.CreateRequest{
		RefID:    fmt.Sprintf("%s-create-onu-%s", olt.Slug, addr),
		Title:    fmt.Sprintf("Create onu %s on %s", addr.Interface(), olt.Name),
		Message:  fmt.Sprintf("Please wait, creating onu %s on %s", addr.Interface(), olt.Name),
		Category: models.CategoryCreateOnu,
	})
}

// DeleteOnuRequest addresses the ONU to remove
type DeleteOnuRequest struct {
	Slot  int    `json:"slot" validate:"required,min=1"`
	Port  int    `json:"port" validate:"required,min=1"`
	OnuID string `json:"onu_id"` // record removed after the device accepts the delete
	Debug bool   `json:"debug"`
}

// DeleteOnu removes an ONU from its PON port
func (s *Service) DeleteOnu(ctx context.Context, slug string, number int, req DeleteOnuRequest) (*Submission, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid delete onu request: %w", err)
	}

	olt, err := s.inventory.GetOlt(ctx, slug)
	if err != nil {
		return nil, err
	}

	addr := zte.OnuAddress{Slot: req.Slot, Port: req.Port, Number: number}
	if err := s.validate.Struct(addr); err != nil {
		return nil, fmt.Errorf("invalid onu address: %w", err)
	}

	payload := models.RunCommandPayload{
		OltSlug:        olt.Slug,
		Commands:       zte.DeleteOnuCommands(addr),
		Debug:          req.Debug,
		Action:         models.CategoryDeleteOnu,
		Target:         addr.Interface(),
		RequireSuccess: true,
		RemoveOnuID:    req.OnuID,
	}

	return s.submit(ctx, models.QueueRunCommand, payload, queue.PolicyMutating(), notifications.CreateRequest{
		RefID:    fmt.Sprintf("%s-delete-onu-%s", olt.Slug, addr),
		Title:    fmt.Sprintf("Delete onu %s on %s", addr.Interface(), olt.Name),
		Message:  fmt.Sprintf("Please wait, deleting onu %s on %s", addr.Interface(), olt.Name),
		Category: models.CategoryDeleteOnu,
	})
}

// RebootOnu reboots the ONU of a stored record
func (s *Service) RebootOnu(ctx context.Context, slug, onuID string) (*Submission, error) {
	olt, err := s.inventory.GetOlt(ctx, slug)
	if err != nil {
		return nil, err
	}
	onu, err := s.onus.GetOnu(ctx, onuID)
	if err != nil {
		return nil, err
	}
	if onu.OltSlug != olt.Slug {
		return nil, fmt.Errorf("%w: onu %s is not on %s", interfaces.ErrOnuNotFound, onuID, slug)
	}

	payload := models.RebootOnuPayload{
		OltSlug:  olt.Slug,
		OnuID:    onu.ID,
		OnuIndex: onu.OnuIndex,
		OnuName:  onu.OnuName,
	}

	return s.submit(ctx, models.QueueRebootOnu, payload, queue.PolicyMutating(), notifications.CreateRequest{
		RefID:    fmt.Sprintf("%s-reboot-onu-%s", olt.Slug, onu.OnuIndex),
		Title:    fmt.Sprintf("Reboot %s GPON_ONU_%s", olt.Slug, onu.OnuIndex),
		Message:  fmt.Sprintf("Subscription %s is being rebooted", onu.OnuName),
		Category: models.CategoryRebootOnu,
	})
}

// syncLabels holds the ref id suffix, category and noun of each sync kind
var syncLabels = map[models.SyncKind]struct {
	ref      string
	category string
	noun     string
}{
	models.SyncSlot:    {"get-slot", models.CategoryGetSlot, "slot"},
	models.SyncTcont:   {"sync-tcont", models.CategorySyncTcont, "tcont"},
	models.SyncTraffic: {"get-traffic", models.CategoryGetTraffic, "traffic"},
	models.SyncVlan:    {"get-vlan", models.CategoryGetVlan, "vlan"},
}

// SyncCategory returns the notification category of a sync kind
func SyncCategory(kind models.SyncKind) string {
	return syncLabels[kind].category
}

// Sync reads one device table into the OLT snapshot
func (s *Service) Sync(ctx context.Context, slug string, kind models.SyncKind) (*Submission, error) {
	labels, ok := syncLabels[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sync kind %q", ErrInvalidRequest, kind)
	}

	olt, err := s.inventory.GetOlt(ctx, slug)
	if err != nil {
		return nil, err
	}

	payload := models.SyncOltPayload{OltSlug: olt.Slug, Kind: kind}
	return s.submit(ctx, models.QueueSyncOlt, payload, queue.PolicyIdempotent(), notifications.CreateRequest{
		RefID:    fmt.Sprintf("%s-%s", olt.Slug, labels.ref),
		Title:    fmt.Sprintf("Synchronizing %s data in %s", labels.noun, olt.Slug),
		Message:  fmt.Sprintf("Please wait, synchronizing %s", labels.noun),
		Category: labels.category,
	})
}

// SyncSlot reads "show card"
func (s *Service) SyncSlot(ctx context.Context, slug string) (*Submission, error) {
	return s.Sync(ctx, slug, models.SyncSlot)
}

// SyncTcont reads the tcont profiles
func (s *Service) SyncTcont(ctx context.Context, slug string) (*Submission, error) {
	return s.Sync(ctx, slug, models.SyncTcont)
}

// SyncTraffic reads the traffic profiles
func (s *Service) SyncTraffic(ctx context.Context, slug string) (*Submission, error) {
	return s.Sync(ctx, slug, models.SyncTraffic)
}

// SyncVlan reads the ONU vlan profiles
func (s *Service) SyncVlan(ctx context.Context, slug string) (*Submission, error) {
	return s.Sync(ctx, slug, models.SyncVlan)
}

// RunCommandsRequest is an operator supplied command batch
type RunCommandsRequest struct {
	Commands []string `json:"commands" validate:"required,min=1,dive,required"`
	Debug    bool     `json:"debug"`
}

// RunCommands runs a raw batch. Arbitrary commands may change configuration,
// so they get the mutating policy.
func (s *Service) RunCommands(ctx context.Context, slug string, req RunCommandsRequest) (*Submission, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid command request: %w", err)
	}

	olt, err := s.inventory.GetOlt(ctx, slug)
	if err != nil {
		return nil, err
	}

	payload := models.RunCommandPayload{
		OltSlug:  olt.Slug,
		Commands: req.Commands,
		Debug:    req.Debug,
		Action:   models.CategoryRunCommand,
		Target:   olt.Name,
	}

	return s.submit(ctx, models.QueueRunCommand, payload, queue.PolicyMutating(), notifications.CreateRequest{
		RefID:    fmt.Sprintf("%s-run-command", olt.Slug),
		Title:    fmt.Sprintf("Running %d commands on %s", len(req.Commands), olt.Name),
		Message:  "Please wait, running commands",
		Category: models.CategoryRunCommand,
	})
}

// ScheduleUncfgScan registers the recurring unconfigured ONU scan
func (s *Service) ScheduleUncfgScan(ctx context.Context, cronExpr string) (*models.Job, error) {
	envelope := models.Envelope{CorrelationID: common.CorrelationIDFrom(ctx)}
	job, err := s.queues.Enqueue(ctx, models.QueueUncfgScan, models.QueueUncfgScan, envelope,
		queue.WithRepeat(queue.PolicyIdempotent(), cronExpr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	s.logger.Info().
		Str("queue", models.QueueUncfgScan).
		Str("cron", cronExpr).
		Msg("Unconfigured ONU scan scheduled")
	return job, nil
}

// submit creates the running notification, then enqueues the job carrying its id.
// An enqueue failure finishes the notification as error and is returned to the caller.
func (s *Service) submit(ctx context.Context, queueName string, payload interface{}, opts models.JobOptions, notification notifications.CreateRequest) (*Submission, error) {
	created, err := s.notifications.Create(ctx, notification)
	if err != nil {
		return nil, err
	}

	envelope, err := models.NewEnvelope(common.CorrelationIDFrom(ctx), created.ID, payload)
	if err != nil {
		s.abandon(ctx, created, err)
		return nil, err
	}

	job, err := s.queues.Enqueue(ctx, queueName, queueName, envelope, opts)
	if err != nil {
		s.abandon(ctx, created, err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("queue", queueName).
		Str("correlation_id", envelope.CorrelationID).
		Str("notification_id", created.ID).
		Str("ref_id", created.RefID).
		Msg("Device operation queued")

	return &Submission{Job: job, Notification: created}, nil
}

func (s *Service) abandon(ctx context.Context, created *models.Notification, cause error) {
	if _, err := s.notifications.Finish(ctx, created.ID, notifications.Outcome{
		Message: cause.Error(),
		Status:  models.NotificationError,
	}); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", created.ID).Msg("Failed to finish abandoned notification")
	}
}
