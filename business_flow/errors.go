// Package businessflow contains the core business logic and use cases for campaign dispatching
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Campaign-related errors
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrCampaignAccessDenied = errors.New("campaign access denied")
	ErrCampaignUUIDRequired = errors.New("campaign UUID is required")
	ErrUnknownContactGroup  = errors.New("unknown contact group")

	// Queue-related errors
	ErrQueueEntryNotFound     = errors.New("queue entry not found")
	ErrQueueEntryAccessDenied = errors.New("queue entry access denied")
	ErrEmptyAudience          = errors.New("campaign audience is empty after exclusions")
	ErrInvalidTransition      = errors.New("invalid queue status transition")
	ErrScheduleTimeInPast     = errors.New("scheduled start is in the past")
	ErrEntryStillActive       = errors.New("queue entry is still active")

	// Receipt-related errors
	ErrDeliveryRecordNotFound = errors.New("delivery record not found")
	ErrInvalidReceiptStatus   = errors.New("invalid receipt status")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignAccessDenied(err error) bool {
	return errors.Is(err, ErrCampaignAccessDenied)
}

func IsUnknownContactGroup(err error) bool {
	return errors.Is(err, ErrUnknownContactGroup)
}

func IsQueueEntryNotFound(err error) bool {
	return errors.Is(err, ErrQueueEntryNotFound)
}

func IsQueueEntryAccessDenied(err error) bool {
	return errors.Is(err, ErrQueueEntryAccessDenied)
}

func IsEmptyAudience(err error) bool {
	return errors.Is(err, ErrEmptyAudience)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsScheduleTimeInPast(err error) bool {
	return errors.Is(err, ErrScheduleTimeInPast)
}

func IsEntryStillActive(err error) bool {
	return errors.Is(err, ErrEntryStillActive)
}

func IsDeliveryRecordNotFound(err error) bool {
	return errors.Is(err, ErrDeliveryRecordNotFound)
}
