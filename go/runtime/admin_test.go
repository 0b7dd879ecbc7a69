package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/paynet/fep/go/sched"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/core/task"
)

func startAdmin(t *testing.T) (*Gateway, string) {
	t.Helper()
	var g, err = NewGateway(Config{
		Accounts: map[string]int64{"ACC-1": 1_000_000, "ACC-2": 0},
	})
	require.NoError(t, err)
	t.Cleanup(g.Stop)

	var admin *AdminServer
	admin, err = NewAdminServer(g, "127.0.0.1:0")
	require.NoError(t, err)

	var tasks = task.NewGroup(context.Background())
	admin.QueueTasks(tasks)
	tasks.GoRun()
	t.Cleanup(func() {
		tasks.Cancel()
		_ = tasks.Wait()
	})
	return g, "http://" + admin.Addr()
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	var resp, err = http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	var resp, err = http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAdminStatusAndConnections(t *testing.T) {
	var _, base = startAdmin(t)

	var status StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/status", &status))
	require.Zero(t, status.SignedOn)
	require.Empty(t, status.Clients)

	var conns []ConnectionInfo
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/connections", &conns))
	require.Empty(t, conns)

	// Unknown channels 404.
	require.Equal(t, http.StatusNotFound, postJSON(t, base+"/v1/connections/NOPE", struct{}{}, nil))

	var resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminTransactionLookup(t *testing.T) {
	var g, base = startAdmin(t)

	require.Equal(t, http.StatusNotFound, getJSON(t, base+"/v1/transactions/missing", nil))

	// Seed a record through the pipeline.
	var resp = g.Pipeline.Execute(context.Background(), testWithdrawal("txn-admin-1"))
	require.True(t, resp.Approved)

	var rec map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/transactions/txn-admin-1", &rec))
	require.Equal(t, "APPROVED", rec["status"])

	var recs []map[string]interface{}
	require.Equal(t, http.StatusOK,
		getJSON(t, base+"/v1/transactions?status=APPROVED&limit=10", &recs))
	require.Len(t, recs, 1)

	require.Equal(t, http.StatusBadRequest, getJSON(t, base+"/v1/transactions", nil))
}

func TestAdminScheduleLifecycle(t *testing.T) {
	var _, base = startAdmin(t)

	var created sched.ScheduledTransfer
	require.Equal(t, http.StatusCreated, postJSON(t, base+"/v1/schedules", sched.CreateRequest{
		CustomerID:    "CUST-1",
		SourceAccount: "ACC-1",
		DestAccount:   "ACC-2",
		Amount:        10_000,
		Frequency:     sched.Monthly,
		StartDate:     time.Now().UTC().AddDate(0, 0, 1),
	}, &created))
	require.NotEmpty(t, created.ID)

	var mine []sched.ScheduledTransfer
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/schedules?customer=CUST-1", &mine))
	require.Len(t, mine, 1)

	var act = func(action, customer string) int {
		return postJSON(t, fmt.Sprintf("%s/v1/schedules/%s/%s", base, created.ID, action),
			map[string]string{"customerId": customer}, nil)
	}
	require.Equal(t, http.StatusForbidden, act("suspend", "CUST-2"))
	require.Equal(t, http.StatusOK, act("suspend", "CUST-1"))
	require.Equal(t, http.StatusConflict, act("suspend", "CUST-1"))
	require.Equal(t, http.StatusOK, act("resume", "CUST-1"))
	require.Equal(t, http.StatusOK, act("cancel", "CUST-1"))
	require.Equal(t, http.StatusNotFound, act("explode", "CUST-1"))

	// Invalid creations are rejected.
	require.Equal(t, http.StatusBadRequest, postJSON(t, base+"/v1/schedules", sched.CreateRequest{
		CustomerID:    "CUST-1",
		SourceAccount: "ACC-1",
		DestAccount:   "ACC-1",
		Amount:        10_000,
		Frequency:     sched.Daily,
		StartDate:     time.Now(),
	}, nil))
}
