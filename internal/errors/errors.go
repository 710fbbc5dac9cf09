// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrCampaignNotRunning is returned when a task is executed for a campaign
	// that is paused, completed or still a draft.
	ErrCampaignNotRunning = errors.New("campaign is not running")

	// ErrPartialRun marks a generation run where at least one recipient hit an
	// infrastructure error. The run is safe to retry.
	ErrPartialRun = errors.New("generation run finished with recipient errors")

	// ErrQuotaExhausted is returned when a reengagement send loses the race for
	// the last unit of quota.
	ErrQuotaExhausted = errors.New("reengagement quota exhausted")

	// ErrLockNotAcquired is returned when a lease is held by another worker.
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrStepNotFound struct {
	CampaignID int
	StepID     int
}

func (e *ErrStepNotFound) Error() string {
	return fmt.Sprintf("step %d not found in campaign %d", e.StepID, e.CampaignID)
}

func NewStepNotFound(campaignID, stepID int) error {
	return &ErrStepNotFound{CampaignID: campaignID, StepID: stepID}
}

type ErrRecipientNotFound struct {
	RecipientID int
}

func (e *ErrRecipientNotFound) Error() string {
	return fmt.Sprintf("recipient with ID %d not found", e.RecipientID)
}

func NewRecipientNotFound(id int) error {
	return &ErrRecipientNotFound{RecipientID: id}
}

type ErrMessageNotFound struct {
	MessageID int
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("outbound message with ID %d not found", e.MessageID)
}

func NewMessageNotFound(id int) error {
	return &ErrMessageNotFound{MessageID: id}
}

// ErrInvalidStatus reports a campaign status transition that is not allowed.
type ErrInvalidStatus struct {
	CampaignID int
	From       string
	To         string
}

func (e *ErrInvalidStatus) Error() string {
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidStatus(id int, from, to string) error {
	return &ErrInvalidStatus{CampaignID: id, From: from, To: to}
}

// ErrValidation wraps configuration problems found before launch.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

// IsNotFound reports whether err is any of the not-found errors above.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var s *ErrStepNotFound
	var r *ErrRecipientNotFound
	var m *ErrMessageNotFound
	return errors.As(err, &c) || errors.As(err, &s) || errors.As(err, &r) || errors.As(err, &m)
}
