// Package requester implements the helpdesk requester operations on top of
// the rate-limited dispatcher. Every operation returns an Outcome; an error
// is returned only when the context is done or the client is unusable.
package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
)

// Step names identify which API call of an operation produced an outcome.
const (
	StepDeactivate           = "deactivate"
	StepReactivate           = "reactivate"
	StepCheckStatus          = "check_requester_status"
	StepMerge                = "merge"
	StepRetryMerge           = "retry_merge"
	StepUpdatePrimaryEmail   = "update_primary_email"
	StepSetSecondaryEmail    = "set_secondary_email"
	StepFetchRequester       = "fetch_requester"
	StepClearSecondaryEmails = "clear_secondary_emails"
	StepSetSecondaryEmails   = "set_secondary_emails"
	StepUpdateExternalID     = "update_external_id"
	StepValidate             = "validate_input"
)

// Dispatcher sends requests to the helpdesk API.
type Dispatcher interface {
	Dispatch(ctx context.Context, req engine.Request) (*engine.Response, error)
}

// Client runs requester operations.
type Client struct {
	Dispatcher Dispatcher
	Clock      func() time.Time
}

type apiMessage struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type requesterEnvelope struct {
	Requester map[string]json.RawMessage `json:"requester"`
}

// Deactivate deletes (deactivates) a requester.
func (c *Client) Deactivate(ctx context.Context, id core.RequesterID) (*core.Outcome, error) {
	outcome := c.begin(core.OperationDeactivate, id)

	resp, err := c.dispatch(ctx, engine.Request{Method: http.MethodDelete, Path: requesterPath(id)})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepDeactivate, err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		return c.resolve(outcome, core.StatusSuccess, StepDeactivate, resp, "requester deactivated"), nil
	case http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, StepDeactivate, resp, "requester not found"), nil
	case http.StatusMethodNotAllowed:
		var body apiMessage
		if err := resp.DecodeJSON(&body); err != nil {
			return c.resolve(outcome, core.StatusRemoteError, StepDeactivate, resp, "received HTTP 405 but failed to parse the response body"), nil
		}
		if IsAlreadyDeactivated(body.Message) {
			return c.resolve(outcome, core.StatusAlreadyInTargetState, StepDeactivate, resp, "requester is already deactivated"), nil
		}
		return c.resolve(outcome, core.StatusRemoteError, StepDeactivate, resp, fmt.Sprintf("received HTTP 405: %s", body.Message)), nil
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepDeactivate, resp, "failed to deactivate requester"), nil
	}
}

// Reactivate restores a deactivated requester. A 404 is disambiguated with
// a follow-up lookup of the requester.
func (c *Client) Reactivate(ctx context.Context, id core.RequesterID) (*core.Outcome, error) {
	outcome := c.begin(core.OperationReactivate, id)

	resp, err := c.dispatch(ctx, engine.Request{Method: http.MethodPut, Path: requesterPath(id) + "/reactivate"})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepReactivate, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return c.resolve(outcome, core.StatusSuccess, StepReactivate, resp, "requester reactivated"), nil
	case http.StatusNotFound:
		return c.checkActive(ctx, outcome, id)
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepReactivate, resp, "failed to reactivate requester"), nil
	}
}

func (c *Client) checkActive(ctx context.Context, outcome *core.Outcome, id core.RequesterID) (*core.Outcome, error) {
	resp, err := c.dispatch(ctx, engine.Request{Method: http.MethodGet, Path: requesterPath(id)})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepCheckStatus, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope requesterEnvelope
		if err := resp.DecodeJSON(&envelope); err != nil {
			return c.resolve(outcome, core.StatusRemoteError, StepCheckStatus, resp, "failed to parse requester status"), nil
		}
		var active bool
		if raw, ok := envelope.Requester["active"]; ok {
			_ = json.Unmarshal(raw, &active)
		}
		if active {
			return c.resolve(outcome, core.StatusAlreadyInTargetState, StepCheckStatus, resp, "requester exists and is already active"), nil
		}
		// Left for an operator: the requester exists, is inactive, and the
		// reactivate route still answered 404.
		return c.resolve(outcome, core.StatusRemoteError, StepCheckStatus, resp, "requester exists but is not active; verify their status manually"), nil
	case http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, StepCheckStatus, resp, "requester does not exist"), nil
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepCheckStatus, resp, "failed to get requester status"), nil
	}
}

// Merge folds the secondary requester into the primary. When the API
// reports an inactive primary, the primary is reactivated, the merge is
// retried once and, on success, the primary is deactivated again. A failed
// retry leaves the primary active.
func (c *Client) Merge(ctx context.Context, primary, secondary core.RequesterID) (*core.Outcome, error) {
	outcome := c.begin(core.OperationMerge, primary)
	outcome.SecondaryID = secondary

	resp, err := c.merge(ctx, primary, secondary)
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepMerge, err)
	}

	switch {
	case mergeSucceeded(resp.StatusCode):
		return c.resolve(outcome, core.StatusSuccess, StepMerge, resp, "secondary requester merged"), nil
	case resp.StatusCode == http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, StepMerge, resp, "primary or secondary requester not found or deactivated"), nil
	case resp.StatusCode == http.StatusBadRequest:
		var body apiMessage
		if err := resp.DecodeJSON(&body); err == nil && IsInactivePrimary(body.Code) {
			return c.recoverMerge(ctx, outcome, primary, secondary)
		}
		return c.resolve(outcome, core.StatusRemoteError, StepMerge, resp, "failed to merge secondary requester"), nil
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepMerge, resp, "failed to merge secondary requester"), nil
	}
}

func (c *Client) recoverMerge(ctx context.Context, outcome *core.Outcome, primary, secondary core.RequesterID) (*core.Outcome, error) {
	// The retry runs whatever the reactivation reported.
	if _, err := c.Reactivate(ctx, primary); err != nil {
		return nil, err
	}

	resp, err := c.merge(ctx, primary, secondary)
	if err != nil {
		outcome.LeftReactivated = true
		return c.dispatchFailure(ctx, outcome, StepRetryMerge, err)
	}
	if !mergeSucceeded(resp.StatusCode) {
		outcome.LeftReactivated = true
		return c.resolve(outcome, core.StatusRemoteError, StepRetryMerge, resp, "merge failed after reactivating primary; primary left active"), nil
	}

	outcome.Recovered = true
	deactivated, err := c.Deactivate(ctx, primary)
	if err != nil {
		return nil, err
	}

	message := "merged after reactivating primary; primary deactivated again"
	if deactivated.Status != core.StatusSuccess && deactivated.Status != core.StatusAlreadyInTargetState {
		message = fmt.Sprintf("merged after reactivating primary; re-deactivation failed (HTTP %d), primary left active", deactivated.StatusCode)
	}
	return c.resolve(outcome, core.StatusSuccess, StepRetryMerge, resp, message), nil
}

func (c *Client) merge(ctx context.Context, primary, secondary core.RequesterID) (*engine.Response, error) {
	query := make(map[string][]string, 1)
	query["secondary_requesters"] = []string{secondary.String()}
	return c.dispatch(ctx, engine.Request{
		Method: http.MethodPut,
		Path:   requesterPath(primary) + "/merge",
		Query:  query,
	})
}

func mergeSucceeded(status int) bool {
	return status == http.StatusOK || status == http.StatusNoContent
}

func (c *Client) dispatch(ctx context.Context, req engine.Request) (*engine.Response, error) {
	if c == nil || c.Dispatcher == nil {
		return nil, errors.New("requester client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Dispatcher.Dispatch(ctx, req)
}

// dispatchFailure turns a dispatcher error into a RemoteError outcome. A
// done context aborts the caller instead.
func (c *Client) dispatchFailure(ctx context.Context, outcome *core.Outcome, step string, err error) (*core.Outcome, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c == nil || c.Dispatcher == nil {
		return nil, err
	}
	outcome.Status = core.StatusRemoteError
	outcome.Step = step
	outcome.Message = err.Error()
	outcome.ResolvedAt = c.now()
	return outcome, nil
}

func (c *Client) begin(op core.Operation, id core.RequesterID) *core.Outcome {
	return &core.Outcome{
		ID:          uuid.New().String(),
		Operation:   op,
		RequesterID: id,
		RequestedAt: c.now(),
	}
}

func (c *Client) resolve(outcome *core.Outcome, status core.Status, step string, resp *engine.Response, message string) *core.Outcome {
	outcome.Status = status
	outcome.Step = step
	outcome.Message = message
	if resp != nil {
		outcome.StatusCode = resp.StatusCode
		if status != core.StatusSuccess {
			outcome.Body = resp.Text()
		}
	}
	outcome.ResolvedAt = c.now()
	return outcome
}

func (c *Client) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func requesterPath(id core.RequesterID) string {
	return "/requesters/" + id.String()
}
