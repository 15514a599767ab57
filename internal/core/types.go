package core

import (
	"strconv"
	"time"
)

// RequesterID identifies a requester in the remote helpdesk.
type RequesterID int64

// String renders the ID in decimal.
func (id RequesterID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Operation names a high-level requester operation.
type Operation string

const (
	OperationDeactivate             Operation = "deactivate"
	OperationReactivate             Operation = "reactivate"
	OperationMerge                  Operation = "merge"
	OperationUpdateEmails           Operation = "update_requester_emails"
	OperationAddSecondaryEmails     Operation = "add_secondary_emails"
	OperationUpdateExternalID       Operation = "update_external_id"
	OperationReplaceSecondaryEmails Operation = "replace_secondary_emails"
)

// Operations lists every supported operation in prompt order.
var Operations = []Operation{
	OperationDeactivate,
	OperationReactivate,
	OperationMerge,
	OperationUpdateEmails,
	OperationAddSecondaryEmails,
	OperationReplaceSecondaryEmails,
	OperationUpdateExternalID,
}

// ParseOperation normalizes an operation name.
func ParseOperation(value string) (Operation, bool) {
	for _, op := range Operations {
		if string(op) == value {
			return op, true
		}
	}
	return "", false
}

// Status is the tagged result of one operation.
type Status string

const (
	StatusSuccess              Status = "success"
	StatusNotFound             Status = "not_found"
	StatusAlreadyInTargetState Status = "already_in_target_state"
	StatusValidationFailed     Status = "validation_failed"
	StatusRemoteError          Status = "remote_error"
)

// Statuses lists outcome statuses in report order.
var Statuses = []Status{
	StatusSuccess,
	StatusAlreadyInTargetState,
	StatusNotFound,
	StatusValidationFailed,
	StatusRemoteError,
}

// IsFailure reports whether the status needs operator attention.
func (s Status) IsFailure() bool {
	return s == StatusValidationFailed || s == StatusRemoteError
}

// Outcome reports the result of one operation on one requester.
type Outcome struct {
	ID          string      `json:"id" yaml:"id"`
	RunID       string      `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Operation   Operation   `json:"operation" yaml:"operation"`
	RequesterID RequesterID `json:"requester_id" yaml:"requester_id"`
	SecondaryID RequesterID `json:"secondary_id,omitempty" yaml:"secondary_id,omitempty"`
	// RowRef identifies the input row when no requester ID could be parsed.
	RowRef     string `json:"row_ref,omitempty" yaml:"row_ref,omitempty"`
	Status     Status `json:"status" yaml:"status"`
	Step       string `json:"step,omitempty" yaml:"step,omitempty"`
	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	Body       string `json:"response_body,omitempty" yaml:"response_body,omitempty"`

	// Recovered is set when a merge succeeded only after reactivating the primary.
	Recovered bool `json:"recovered,omitempty" yaml:"recovered,omitempty"`
	// LeftReactivated is set when merge recovery reactivated the primary and the
	// retried merge failed; the primary stays active and needs manual follow-up.
	LeftReactivated bool `json:"left_reactivated,omitempty" yaml:"left_reactivated,omitempty"`

	// Emails holds the secondary emails written on success.
	Emails []string `json:"emails,omitempty" yaml:"emails,omitempty"`

	RequestedAt time.Time `json:"requested_at" yaml:"requested_at"`
	ResolvedAt  time.Time `json:"resolved_at" yaml:"resolved_at"`
}

// Subject returns the identifier used when reporting the outcome.
func (o *Outcome) Subject() string {
	if o == nil {
		return ""
	}
	if o.RowRef != "" && o.RequesterID == 0 {
		return o.RowRef
	}
	return o.RequesterID.String()
}
