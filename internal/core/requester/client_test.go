package requester

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/engine"
)

type scriptedDispatcher struct {
	replies []*engine.Response
	errs    map[int]error
	calls   []engine.Request
}

func (s *scriptedDispatcher) Dispatch(ctx context.Context, req engine.Request) (*engine.Response, error) {
	index := len(s.calls)
	s.calls = append(s.calls, req)
	if err, ok := s.errs[index]; ok {
		return nil, err
	}
	if index >= len(s.replies) {
		return nil, errors.New("unexpected call")
	}
	return s.replies[index], nil
}

func (s *scriptedDispatcher) route(i int) string {
	return s.calls[i].Method + " " + s.calls[i].Path
}

func reply(status int, body string) *engine.Response {
	return &engine.Response{StatusCode: status, Header: http.Header{}, Body: []byte(body)}
}

func newScripted(replies ...*engine.Response) (*Client, *scriptedDispatcher) {
	fake := &scriptedDispatcher{replies: replies}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Client{Dispatcher: fake, Clock: func() time.Time { return fixed }}, fake
}

func bodyJSON(t *testing.T, req engine.Request) string {
	t.Helper()
	data, err := json.Marshal(req.Body)
	require.NoError(t, err)
	return string(data)
}

func TestDeactivate(t *testing.T) {
	cases := []struct {
		name   string
		reply  *engine.Response
		status core.Status
	}{
		{"Success", reply(http.StatusNoContent, ""), core.StatusSuccess},
		{"NotFound", reply(http.StatusNotFound, `{"message":"not found"}`), core.StatusNotFound},
		{"AlreadyDeactivated", reply(http.StatusMethodNotAllowed, `{"message":"DELETE method is not allowed. It should be one of these method(s): GET"}`), core.StatusAlreadyInTargetState},
		{"OtherMethodMessage", reply(http.StatusMethodNotAllowed, `{"message":"DELETE method is not allowed."}`), core.StatusRemoteError},
		{"UnparsableMethodBody", reply(http.StatusMethodNotAllowed, `<html>`), core.StatusRemoteError},
		{"ServerError", reply(http.StatusInternalServerError, `oops`), core.StatusRemoteError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, fake := newScripted(tc.reply)
			outcome, err := client.Deactivate(context.Background(), 17)
			require.NoError(t, err)
			require.Equal(t, tc.status, outcome.Status)
			require.Equal(t, core.OperationDeactivate, outcome.Operation)
			require.Equal(t, core.RequesterID(17), outcome.RequesterID)
			require.Equal(t, tc.reply.StatusCode, outcome.StatusCode)
			require.NotEmpty(t, outcome.ID)
			require.Len(t, fake.calls, 1)
			require.Equal(t, "DELETE /requesters/17", fake.route(0))
		})
	}
}

func TestReactivate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusOK, `{}`))
		outcome, err := client.Reactivate(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Equal(t, []string{"PUT /requesters/5/reactivate"}, routes(fake))
	})

	t.Run("NotFoundButActive", func(t *testing.T) {
		client, fake := newScripted(
			reply(http.StatusNotFound, ``),
			reply(http.StatusOK, `{"requester":{"id":5,"active":true}}`),
		)
		outcome, err := client.Reactivate(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, core.StatusAlreadyInTargetState, outcome.Status)
		require.Equal(t, []string{"PUT /requesters/5/reactivate", "GET /requesters/5"}, routes(fake))
	})

	t.Run("NotFoundAndInactive", func(t *testing.T) {
		client, _ := newScripted(
			reply(http.StatusNotFound, ``),
			reply(http.StatusOK, `{"requester":{"id":5,"active":false}}`),
		)
		outcome, err := client.Reactivate(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Equal(t, StepCheckStatus, outcome.Step)
		require.Contains(t, outcome.Message, "manually")
	})

	t.Run("MissingActiveField", func(t *testing.T) {
		client, _ := newScripted(
			reply(http.StatusNotFound, ``),
			reply(http.StatusOK, `{"requester":{"id":5}}`),
		)
		outcome, err := client.Reactivate(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
	})

	t.Run("DoesNotExist", func(t *testing.T) {
		client, _ := newScripted(reply(http.StatusNotFound, ``), reply(http.StatusNotFound, ``))
		outcome, err := client.Reactivate(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, core.StatusNotFound, outcome.Status)
	})

	t.Run("LookupFails", func(t *testing.T) {
		client, _ := newScripted(reply(http.StatusNotFound, ``), reply(http.StatusBadGateway, ``))
		outcome, err := client.Reactivate(context.Background(), 5)
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Equal(t, http.StatusBadGateway, outcome.StatusCode)
	})
}

func TestMerge(t *testing.T) {
	inactivePrimary := `{"code":"primary_requester_should_be_active","message":"Primary requester should be active"}`

	t.Run("Success", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusOK, `{}`))
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.False(t, outcome.Recovered)
		require.Equal(t, core.RequesterID(2), outcome.SecondaryID)
		require.Equal(t, "PUT /requesters/1/merge", fake.route(0))
		require.Equal(t, "2", fake.calls[0].Query.Get("secondary_requesters"))
	})

	t.Run("NotFound", func(t *testing.T) {
		client, _ := newScripted(reply(http.StatusNotFound, ``))
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusNotFound, outcome.Status)
	})

	t.Run("OtherBadRequest", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusBadRequest, `{"code":"invalid_value"}`))
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Len(t, fake.calls, 1)
	})

	t.Run("RecoversInactivePrimary", func(t *testing.T) {
		client, fake := newScripted(
			reply(http.StatusBadRequest, inactivePrimary),
			reply(http.StatusOK, `{}`),
			reply(http.StatusOK, `{}`),
			reply(http.StatusNoContent, ``),
		)
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.True(t, outcome.Recovered)
		require.False(t, outcome.LeftReactivated)
		require.Equal(t, []string{
			"PUT /requesters/1/merge",
			"PUT /requesters/1/reactivate",
			"PUT /requesters/1/merge",
			"DELETE /requesters/1",
		}, routes(fake))
	})

	t.Run("RetryFailureLeavesPrimaryActive", func(t *testing.T) {
		client, fake := newScripted(
			reply(http.StatusBadRequest, inactivePrimary),
			reply(http.StatusOK, `{}`),
			reply(http.StatusInternalServerError, `boom`),
		)
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.True(t, outcome.LeftReactivated)
		require.Equal(t, StepRetryMerge, outcome.Step)
		require.Equal(t, "boom", outcome.Body)
		require.Len(t, fake.calls, 3)
		for _, call := range fake.calls {
			require.NotEqual(t, http.MethodDelete, call.Method)
		}
	})

	t.Run("RetryRunsWhenReactivateFails", func(t *testing.T) {
		client, fake := newScripted(
			reply(http.StatusBadRequest, inactivePrimary),
			reply(http.StatusInternalServerError, ``),
			reply(http.StatusOK, `{}`),
			reply(http.StatusNoContent, ``),
		)
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Len(t, fake.calls, 4)
	})

	t.Run("RedeactivateFailureStillSucceeds", func(t *testing.T) {
		client, _ := newScripted(
			reply(http.StatusBadRequest, inactivePrimary),
			reply(http.StatusOK, `{}`),
			reply(http.StatusOK, `{}`),
			reply(http.StatusInternalServerError, ``),
		)
		outcome, err := client.Merge(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Contains(t, outcome.Message, "re-deactivation failed")
	})
}

func TestUpdateEmails(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusOK, `{}`), reply(http.StatusOK, `{}`))
		outcome, err := client.UpdateEmails(context.Background(), 9, " new@example.com ", "old@example.com")
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Equal(t, []string{"old@example.com"}, outcome.Emails)
		require.Equal(t, []string{"PUT /requesters/9", "PUT /requesters/9"}, routes(fake))
		require.JSONEq(t, `{"primary_email":"new@example.com","secondary_emails":[]}`, bodyJSON(t, fake.calls[0]))
		require.JSONEq(t, `{"secondary_emails":["old@example.com"]}`, bodyJSON(t, fake.calls[1]))
	})

	t.Run("MissingEmail", func(t *testing.T) {
		client, fake := newScripted()
		outcome, err := client.UpdateEmails(context.Background(), 9, "", "old@example.com")
		require.NoError(t, err)
		require.Equal(t, core.StatusValidationFailed, outcome.Status)
		require.Empty(t, fake.calls)
	})

	t.Run("PrimaryRejected", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusBadRequest, `{"errors":[]}`))
		outcome, err := client.UpdateEmails(context.Background(), 9, "a@example.com", "b@example.com")
		require.NoError(t, err)
		require.Equal(t, core.StatusValidationFailed, outcome.Status)
		require.Equal(t, StepUpdatePrimaryEmail, outcome.Step)
		require.Len(t, fake.calls, 1)
	})

	t.Run("SecondaryFails", func(t *testing.T) {
		client, _ := newScripted(reply(http.StatusOK, `{}`), reply(http.StatusServiceUnavailable, ``))
		outcome, err := client.UpdateEmails(context.Background(), 9, "a@example.com", "b@example.com")
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Equal(t, StepSetSecondaryEmail, outcome.Step)
	})

	t.Run("NotFound", func(t *testing.T) {
		client, _ := newScripted(reply(http.StatusNotFound, ``))
		outcome, err := client.UpdateEmails(context.Background(), 9, "a@example.com", "b@example.com")
		require.NoError(t, err)
		require.Equal(t, core.StatusNotFound, outcome.Status)
	})
}

func TestAddSecondaryEmails(t *testing.T) {
	t.Run("UnionWithExisting", func(t *testing.T) {
		client, fake := newScripted(
			reply(http.StatusOK, `{"requester":{"secondary_emails":["b@example.com","a@example.com"]}}`),
			reply(http.StatusOK, `{}`),
		)
		outcome, err := client.AddSecondaryEmails(context.Background(), 3, []string{"c@example.com", "a@example.com", " "})
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Equal(t, []string{"GET /requesters/3", "PUT /requesters/3"}, routes(fake))
		require.ElementsMatch(t, []string{"a@example.com", "b@example.com", "c@example.com"}, outcome.Emails)
		require.JSONEq(t, `{"secondary_emails":["a@example.com","b@example.com","c@example.com"]}`, bodyJSON(t, fake.calls[1]))
	})

	t.Run("MissingField", func(t *testing.T) {
		client, _ := newScripted(
			reply(http.StatusOK, `{"requester":{"id":3}}`),
			reply(http.StatusOK, `{}`),
		)
		outcome, err := client.AddSecondaryEmails(context.Background(), 3, []string{"x@example.com"})
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Equal(t, []string{"x@example.com"}, outcome.Emails)
	})

	t.Run("NonListField", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusOK, `{"requester":{"secondary_emails":"a@example.com"}}`))
		outcome, err := client.AddSecondaryEmails(context.Background(), 3, []string{"x@example.com"})
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Len(t, fake.calls, 1)
	})

	t.Run("NotFound", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusNotFound, ``))
		outcome, err := client.AddSecondaryEmails(context.Background(), 3, []string{"x@example.com"})
		require.NoError(t, err)
		require.Equal(t, core.StatusNotFound, outcome.Status)
		require.Len(t, fake.calls, 1)
	})

	t.Run("NothingToAdd", func(t *testing.T) {
		client, fake := newScripted()
		outcome, err := client.AddSecondaryEmails(context.Background(), 3, []string{"", "  "})
		require.NoError(t, err)
		require.Equal(t, core.StatusValidationFailed, outcome.Status)
		require.Empty(t, fake.calls)
	})
}

func TestUpdateExternalID(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   core.Status
	}{
		{"Success", http.StatusOK, core.StatusSuccess},
		{"NotFound", http.StatusNotFound, core.StatusNotFound},
		{"Rejected", http.StatusBadRequest, core.StatusRemoteError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, fake := newScripted(reply(tc.status, `{}`))
			outcome, err := client.UpdateExternalID(context.Background(), 11, "EXT-11")
			require.NoError(t, err)
			require.Equal(t, tc.want, outcome.Status)
			require.JSONEq(t, `{"external_id":"EXT-11"}`, bodyJSON(t, fake.calls[0]))
		})
	}
}

func TestReplaceSecondaryEmails(t *testing.T) {
	t.Run("ClearThenSet", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusOK, `{}`), reply(http.StatusOK, `{}`))
		outcome, err := client.ReplaceSecondaryEmails(context.Background(), 4, []string{"a@example.com", "", "b@example.com"})
		require.NoError(t, err)
		require.Equal(t, core.StatusSuccess, outcome.Status)
		require.Equal(t, []string{"a@example.com", "b@example.com"}, outcome.Emails)
		require.JSONEq(t, `{"secondary_emails":[]}`, bodyJSON(t, fake.calls[0]))
		require.JSONEq(t, `{"secondary_emails":["a@example.com","b@example.com"]}`, bodyJSON(t, fake.calls[1]))
	})

	t.Run("ClearFailureSkipsSet", func(t *testing.T) {
		client, fake := newScripted(reply(http.StatusInternalServerError, `down`))
		outcome, err := client.ReplaceSecondaryEmails(context.Background(), 4, []string{"a@example.com"})
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Equal(t, StepClearSecondaryEmails, outcome.Step)
		require.Equal(t, "down", outcome.Body)
		require.Len(t, fake.calls, 1)
	})

	t.Run("SetFailure", func(t *testing.T) {
		client, _ := newScripted(reply(http.StatusOK, `{}`), reply(http.StatusBadRequest, `bad`))
		outcome, err := client.ReplaceSecondaryEmails(context.Background(), 4, []string{"a@example.com"})
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Equal(t, StepSetSecondaryEmails, outcome.Step)
	})
}

func TestDispatchErrors(t *testing.T) {
	t.Run("ExhaustedRetriesBecomeRemoteError", func(t *testing.T) {
		client, fake := newScripted()
		fake.errs = map[int]error{0: engine.ErrRetriesExhausted}
		outcome, err := client.Deactivate(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, core.StatusRemoteError, outcome.Status)
		require.Equal(t, StepDeactivate, outcome.Step)
	})

	t.Run("CancelledContextAborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		client, fake := newScripted()
		fake.errs = map[int]error{0: context.Canceled}
		outcome, err := client.Deactivate(ctx, 1)
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, outcome)
	})

	t.Run("Unconfigured", func(t *testing.T) {
		client := &Client{}
		_, err := client.Deactivate(context.Background(), 1)
		require.Error(t, err)
	})
}

func TestUnionEmails(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, UnionEmails([]string{"c", "a"}, []string{"b", "a"}))
	require.Empty(t, UnionEmails(nil, nil))
}

func TestPredicates(t *testing.T) {
	require.True(t, IsAlreadyDeactivated("DELETE method is not allowed. It should be one of these method(s): GET"))
	require.False(t, IsAlreadyDeactivated("DELETE method is not allowed. It should be one of these method(s): GET, PUT"))
	require.True(t, IsInactivePrimary("primary_requester_should_be_active"))
	require.False(t, IsInactivePrimary("invalid_value"))
}

func TestMergeRecoveryOverHTTP(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		n := len(calls)
		mu.Unlock()

		_, _ = io.Copy(io.Discard, r.Body)
		switch n {
		case 1:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, err := w.Write([]byte(`{"code":"primary_requester_should_be_active"}`))
			assert.NoError(t, err)
		case 2, 3:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	dispatcher := &engine.Dispatcher{
		BaseURL: server.URL + "/api/v2",
		APIKey:  "key",
		Client:  server.Client(),
		Budget:  engine.NewRateBudget(engine.DefaultRequestsPerWindow, engine.DefaultWindow),
	}
	client := &Client{Dispatcher: dispatcher}

	outcome, err := client.Merge(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Equal(t, core.StatusSuccess, outcome.Status)
	require.True(t, outcome.Recovered)
	require.Equal(t, []string{
		"PUT /api/v2/requesters/100/merge",
		"PUT /api/v2/requesters/100/reactivate",
		"PUT /api/v2/requesters/100/merge",
		"DELETE /api/v2/requesters/100",
	}, calls)
}

func routes(fake *scriptedDispatcher) []string {
	out := make([]string, 0, len(fake.calls))
	for i := range fake.calls {
		out = append(out, fake.route(i))
	}
	return out
}
