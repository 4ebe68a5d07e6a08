package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"WagerLedger/internal/config"
	"WagerLedger/internal/core"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/persistence"
	"WagerLedger/internal/query"
	"WagerLedger/internal/server"
	"WagerLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inProcess returns a dialer that hands out an in-process service backed by
// a fresh SQLite store.
func inProcess(t *testing.T) dialFunc {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine, err := core.NewEngine(store, core.DefaultPolicy(), nil, metrics, zerolog.Nop())
	require.NoError(t, err)
	svc := server.NewSettlementService(engine, query.NewQueryService(store, metrics, zerolog.Nop()),
		config.Currency{Code: "USD", Scale: 2})
	return func(string) (server.SettlementServer, func() error, error) {
		return svc, func() error { return nil }, nil
	}
}

func execute(t *testing.T, dial dialFunc, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(dial)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, dial dialFunc, args ...string) string {
	t.Helper()
	out, err := execute(t, dial, args...)
	require.NoError(t, err, out)
	return out
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "wagerctl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"open", "balance", "deposit", "withdraw", "confirm-withdrawal", "reject-withdrawal",
		"lock", "lock-group", "release", "refund", "escrow",
		"entries", "operations", "verify", "policy", "migrate",
	}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, inProcess(t), "--format", "yaml", "policy")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSettlementFlow(t *testing.T) {
	dial := inProcess(t)

	mustExecute(t, dial, "open", "alice")
	mustExecute(t, dial, "open", "bob")
	out := mustExecute(t, dial, "deposit", "alice", "100.00", "--ref", "psp-a")
	assert.Contains(t, out, "alice  spendable 100.00  locked 0.00")
	mustExecute(t, dial, "deposit", "bob", "100", "--ref", "psp-b")

	out = mustExecute(t, dial, "lock", "m-1", "alice", "bob", "40.00")
	assert.Contains(t, out, "pot 80.00  fee 8.00  payout 72.00")

	out = mustExecute(t, dial, "balance", "bob")
	assert.Contains(t, out, "bob  spendable 60.00  locked 40.00")

	out = mustExecute(t, dial, "release", "m-1", "alice")
	assert.Contains(t, out, "#1 alice 72.00")

	out = mustExecute(t, dial, "escrow", "m-1")
	assert.Contains(t, out, "RELEASED")

	out = mustExecute(t, dial, "verify")
	assert.True(t, strings.HasPrefix(out, "healthy"), out)

	out = mustExecute(t, dial, "entries", "--account", "platform_wallet:"+core.PlatformOwnerID)
	assert.Contains(t, out, "8.00")
}

func TestRejectionsExitWithFailure(t *testing.T) {
	dial := inProcess(t)
	mustExecute(t, dial, "open", "alice")

	_, err := execute(t, dial, "balance", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "NOT_FOUND")

	_, err = execute(t, dial, "deposit", "alice", "1.001", "--ref", "r")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, dial, "withdraw", "alice", "20.00")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "INSUFFICIENT_FUNDS")
}

func TestJSONOutput(t *testing.T) {
	dial := inProcess(t)
	mustExecute(t, dial, "open", "alice")
	out := mustExecute(t, dial, "--format", "json", "deposit", "alice", "25.50", "--ref", "psp-1")

	var resp struct {
		Status string                 `json:"status"`
		Data   server.DepositResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(2550), resp.Data.Balance.Spendable)

	out, err := execute(t, dial, "--format", "json", "deposit", "alice", "25.50", "--ref", "psp-1")
	require.Error(t, err)
	var failed CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &failed))
	assert.Equal(t, "error", failed.Status)
	assert.Equal(t, "CONFLICT", failed.Error.Code)
}

func TestWithdrawalCommands(t *testing.T) {
	dial := inProcess(t)
	mustExecute(t, dial, "open", "alice")
	mustExecute(t, dial, "deposit", "alice", "50", "--ref", "psp-1")

	out := mustExecute(t, dial, "--format", "json", "withdraw", "alice", "20")
	var resp struct {
		Data server.WithdrawResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "PENDING", resp.Data.PayoutState)

	out = mustExecute(t, dial, "reject-withdrawal", resp.Data.OperationID, "--reason", "iban closed")
	assert.Contains(t, out, "alice  spendable 50.00  locked 0.00")

	_, err := execute(t, dial, "confirm-withdrawal", resp.Data.OperationID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_STATE")

	out = mustExecute(t, dial, "operations", "--owner", "alice")
	assert.Contains(t, out, "WITHDRAWAL_REVERSAL")
}

func TestMigrateUpDown(t *testing.T) {
	dsn := persistence.SQLiteDSN(filepath.Join(t.TempDir(), "m.db"), time.Second)
	noDial := func(string) (server.SettlementServer, func() error, error) {
		t.Fatal("migrate must not dial the service")
		return nil, nil, nil
	}

	out := mustExecute(t, noDial, "migrate", "up", "--driver", "sqlite", "--dsn", dsn)
	assert.Contains(t, out, "all migrations applied")

	out = mustExecute(t, noDial, "migrate", "status", "--driver", "sqlite", "--dsn", dsn)
	assert.Contains(t, out, "000001")

	mustExecute(t, noDial, "migrate", "down", "--driver", "sqlite", "--dsn", dsn)
	out = mustExecute(t, noDial, "migrate", "status", "--driver", "sqlite", "--dsn", dsn)
	assert.Contains(t, out, "no migrations applied")
}

func TestEqualSplitGroupFlow(t *testing.T) {
	dial := inProcess(t)
	for _, p := range []string{"a", "b", "c", "d"} {
		mustExecute(t, dial, "open", p)
		mustExecute(t, dial, "deposit", p, "50.00", "--ref", "psp-"+p)
	}

	out := mustExecute(t, dial, "lock-group", "g-1", "10.00", "a", "b", "c", "d", "--payout", "equal_split")
	assert.Contains(t, out, "pot 40.00  fee 4.00  payout 36.00")

	out = mustExecute(t, dial, "release", "g-1", "b", "d")
	assert.Contains(t, out, "#1 b 18.00")
	assert.Contains(t, out, "#2 d 18.00")

	out = mustExecute(t, dial, "escrow", "g-1")
	assert.Contains(t, out, "equal_split")

	_, err := execute(t, dial, "lock-group", "g-2", "10.00", "a", "b", "c", "--payout", "equal_thirds")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
