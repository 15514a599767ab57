package requester

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
)

// UpdateEmails sets a new primary email, clearing all secondary emails, then
// stores the old address as the only secondary email.
func (c *Client) UpdateEmails(ctx context.Context, id core.RequesterID, newPrimary, newSecondary string) (*core.Outcome, error) {
	outcome := c.begin(core.OperationUpdateEmails, id)

	newPrimary = strings.TrimSpace(newPrimary)
	newSecondary = strings.TrimSpace(newSecondary)
	if newPrimary == "" || newSecondary == "" {
		return c.resolve(outcome, core.StatusValidationFailed, StepValidate, nil, "primary and secondary emails are both required"), nil
	}

	resp, err := c.update(ctx, id, map[string]any{
		"primary_email":    newPrimary,
		"secondary_emails": []string{},
	})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepUpdatePrimaryEmail, err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.writeFailure(outcome, StepUpdatePrimaryEmail, resp, "failed to update primary email"), nil
	}

	resp, err = c.update(ctx, id, map[string]any{
		"secondary_emails": []string{newSecondary},
	})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepSetSecondaryEmail, err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.writeFailure(outcome, StepSetSecondaryEmail, resp, "primary email updated but secondary email failed"), nil
	}

	outcome.Emails = []string{newSecondary}
	return c.resolve(outcome, core.StatusSuccess, StepSetSecondaryEmail, resp, "emails updated"), nil
}

// AddSecondaryEmails merges emails into the requester's existing secondary
// emails. The stored list is the sorted set union of both.
func (c *Client) AddSecondaryEmails(ctx context.Context, id core.RequesterID, emails []string) (*core.Outcome, error) {
	outcome := c.begin(core.OperationAddSecondaryEmails, id)

	additions := CleanEmails(emails)
	if len(additions) == 0 {
		return c.resolve(outcome, core.StatusValidationFailed, StepValidate, nil, "no secondary emails to add"), nil
	}

	resp, err := c.dispatch(ctx, engine.Request{Method: http.MethodGet, Path: requesterPath(id)})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepFetchRequester, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, StepFetchRequester, resp, "requester not found"), nil
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepFetchRequester, resp, "failed to fetch requester"), nil
	}

	existing, err := existingSecondaryEmails(resp)
	if err != nil {
		return c.resolve(outcome, core.StatusRemoteError, StepFetchRequester, resp, err.Error()), nil
	}

	union := UnionEmails(existing, additions)
	resp, err = c.update(ctx, id, map[string]any{"secondary_emails": union})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepSetSecondaryEmails, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		outcome.Emails = union
		return c.resolve(outcome, core.StatusSuccess, StepSetSecondaryEmails, resp, "secondary emails added"), nil
	case http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, StepSetSecondaryEmails, resp, "requester not found"), nil
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepSetSecondaryEmails, resp, "failed to update secondary emails"), nil
	}
}

// UpdateExternalID overwrites the requester's external_id.
func (c *Client) UpdateExternalID(ctx context.Context, id core.RequesterID, externalID string) (*core.Outcome, error) {
	outcome := c.begin(core.OperationUpdateExternalID, id)

	resp, err := c.update(ctx, id, map[string]any{"external_id": strings.TrimSpace(externalID)})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepUpdateExternalID, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return c.resolve(outcome, core.StatusSuccess, StepUpdateExternalID, resp, "external id updated"), nil
	case http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, StepUpdateExternalID, resp, "requester not found"), nil
	default:
		return c.resolve(outcome, core.StatusRemoteError, StepUpdateExternalID, resp, "failed to update external id"), nil
	}
}

// ReplaceSecondaryEmails clears the requester's secondary emails and then
// sets exactly the given list. The set call is skipped when the clear fails.
func (c *Client) ReplaceSecondaryEmails(ctx context.Context, id core.RequesterID, emails []string) (*core.Outcome, error) {
	outcome := c.begin(core.OperationReplaceSecondaryEmails, id)
	replacement := CleanEmails(emails)

	resp, err := c.update(ctx, id, map[string]any{"secondary_emails": []string{}})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepClearSecondaryEmails, err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.resolve(outcome, core.StatusRemoteError, StepClearSecondaryEmails, resp, "failed to clear secondary emails"), nil
	}

	resp, err = c.update(ctx, id, map[string]any{"secondary_emails": replacement})
	if err != nil {
		return c.dispatchFailure(ctx, outcome, StepSetSecondaryEmails, err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.resolve(outcome, core.StatusRemoteError, StepSetSecondaryEmails, resp, "secondary emails cleared but new list was not set"), nil
	}

	outcome.Emails = replacement
	return c.resolve(outcome, core.StatusSuccess, StepSetSecondaryEmails, resp, "secondary emails replaced"), nil
}

func (c *Client) update(ctx context.Context, id core.RequesterID, body map[string]any) (*engine.Response, error) {
	return c.dispatch(ctx, engine.Request{Method: http.MethodPut, Path: requesterPath(id), Body: body})
}

// writeFailure maps a failed email write: 404 is NotFound, 400 and 422 are
// ValidationFailed, everything else is RemoteError.
func (c *Client) writeFailure(outcome *core.Outcome, step string, resp *engine.Response, message string) *core.Outcome {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return c.resolve(outcome, core.StatusNotFound, step, resp, "requester not found")
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return c.resolve(outcome, core.StatusValidationFailed, step, resp, message)
	default:
		return c.resolve(outcome, core.StatusRemoteError, step, resp, message)
	}
}

var (
	errRequesterFormat       = errors.New("failed to parse requester record")
	errSecondaryEmailsFormat = errors.New("unexpected format for existing secondary emails")
)

func existingSecondaryEmails(resp *engine.Response) ([]string, error) {
	var envelope requesterEnvelope
	if err := resp.DecodeJSON(&envelope); err != nil {
		return nil, errRequesterFormat
	}
	raw, ok := envelope.Requester["secondary_emails"]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var existing []string
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, errSecondaryEmailsFormat
	}
	return existing, nil
}

// CleanEmails trims each address and drops blanks, keeping order.
func CleanEmails(emails []string) []string {
	cleaned := make([]string, 0, len(emails))
	for _, email := range emails {
		if email = strings.TrimSpace(email); email != "" {
			cleaned = append(cleaned, email)
		}
	}
	return cleaned
}

// UnionEmails returns the sorted, de-duplicated union of both lists.
// Comparison is exact; the API owns case folding.
func UnionEmails(existing, additions []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(additions))
	union := make([]string, 0, len(existing)+len(additions))
	for _, list := range [][]string{existing, additions} {
		for _, email := range list {
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			union = append(union, email)
		}
	}
	sort.Strings(union)
	return union
}
