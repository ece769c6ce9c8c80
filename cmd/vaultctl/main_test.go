package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evovault/core/identity"
	"evovault/core/reconcile"
	"evovault/crypto"
	"evovault/storage"
)

type testWorkspace struct {
	dir     string
	cfgPath string
	dbPath  string
}

func newWorkspace(t *testing.T) *testWorkspace {
	t.Helper()
	dir := t.TempDir()
	ws := &testWorkspace{
		dir:     dir,
		cfgPath: filepath.Join(dir, "evovault.toml"),
		dbPath:  filepath.Join(dir, "vault.db"),
	}
	contents := fmt.Sprintf("network = \"testnet\"\ndata_dir = %q\ndatabase = %q\npage_size = 10\n", dir, ws.dbPath)
	if err := os.WriteFile(ws.cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return ws
}

func (ws *testWorkspace) seed(t *testing.T, identities ...*identity.QualifiedIdentity) {
	t.Helper()
	dsn, err := storage.FileDSN(ws.dbPath)
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	store, err := storage.Open(dsn, storage.WithMetrics(nil))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	rec, err := reconcile.New(store, reconcile.WithMetrics(nil))
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	for _, qi := range identities {
		if err := rec.CreateLocal(context.Background(), identity.Testnet, qi); err != nil {
			t.Fatalf("create local: %v", err)
		}
	}
}

func (ws *testWorkspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--config", ws.cfgPath}, args...))
	err := cmd.Execute()
	a.close()
	return stdout.String(), err
}

func secpIdentity(t *testing.T, b byte) (*identity.QualifiedIdentity, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	qi := identity.NewQualifiedIdentity(identity.Identifier{b}, identity.User)
	qi.Balance = 42
	qi.AddPublicKey(identity.PublicKey{
		ID:            0,
		Purpose:       identity.PurposeAuthentication,
		SecurityLevel: identity.SecurityMaster,
		Type:          identity.KeyECDSASecp256k1,
		Data:          key.CompressedPublicKey(),
	})
	return qi, key
}

func listJSON(t *testing.T, ws *testWorkspace, extra ...string) []identityRow {
	t.Helper()
	out, err := ws.run(t, append([]string{"identities", "list", "--json"}, extra...)...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []identityRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode list output %q: %v", out, err)
	}
	return rows
}

func TestIdentitiesLifecycle(t *testing.T) {
	ws := newWorkspace(t)
	user, _ := secpIdentity(t, 1)
	node := identity.NewQualifiedIdentity(identity.Identifier{2}, identity.Masternode)
	ws.seed(t, user, node)

	rows := listJSON(t, ws)
	if len(rows) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(rows))
	}
	if rows := listJSON(t, ws, "--type", "other"); len(rows) != 1 || rows[0].Type != "Masternode" {
		t.Fatalf("unexpected other filter result: %+v", rows)
	}

	id := user.ID.String()
	if _, err := ws.run(t, "identities", "alias", id, "cold storage"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if _, err := ws.run(t, "identities", "topup", id, "--index", "0", "--amount", "500"); err != nil {
		t.Fatalf("topup: %v", err)
	}
	out, err := ws.run(t, "identities", "topup", id, "--index", "0", "--amount", "700")
	if err != nil {
		t.Fatalf("repeat topup: %v", err)
	}
	if !strings.Contains(out, "already recorded") {
		t.Fatalf("unexpected repeat topup output: %q", out)
	}

	rows = listJSON(t, ws, "--type", "user")
	if len(rows) != 1 || rows[0].Alias != "cold storage" || rows[0].TopUpSum != 500 {
		t.Fatalf("unexpected user row: %+v", rows)
	}

	if _, err := ws.run(t, "identities", "alias", id, "--clear"); err != nil {
		t.Fatalf("clear alias: %v", err)
	}
	if rows := listJSON(t, ws, "--type", "user"); rows[0].Alias != "" {
		t.Fatalf("alias not cleared: %+v", rows[0])
	}

	if _, err := ws.run(t, "identities", "remove", id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := ws.run(t, "identities", "remove", id); err == nil {
		t.Fatalf("expected second remove to fail")
	}
	if rows := listJSON(t, ws); len(rows) != 1 {
		t.Fatalf("expected 1 identity after removal, got %d", len(rows))
	}
}

func TestIdentitiesNetworkOverride(t *testing.T) {
	ws := newWorkspace(t)
	user, _ := secpIdentity(t, 1)
	ws.seed(t, user)
	if rows := listJSON(t, ws, "--network", "mainnet"); len(rows) != 0 {
		t.Fatalf("mainnet should be empty, got %+v", rows)
	}
	if _, err := ws.run(t, "identities", "list", "--network", "moon"); err == nil {
		t.Fatalf("expected unknown network to fail")
	}
}

func TestIdentitiesTable(t *testing.T) {
	ws := newWorkspace(t)
	user, _ := secpIdentity(t, 1)
	ws.seed(t, user)
	out, err := ws.run(t, "identities", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, user.ID.String()) || !strings.Contains(strings.ToUpper(out), "BALANCE") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}

func TestAddKey(t *testing.T) {
	ws := newWorkspace(t)
	user, key := secpIdentity(t, 1)
	ws.seed(t, user)

	other, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv(privateKeyEnv, hex.EncodeToString(other.Bytes()))
	if _, err := ws.run(t, "identities", "add-key", user.ID.String(), "--key-id", "0"); err == nil {
		t.Fatalf("expected mismatched key to be rejected")
	}

	t.Setenv(privateKeyEnv, hex.EncodeToString(key.Bytes()))
	if _, err := ws.run(t, "identities", "add-key", user.ID.String(), "--key-id", "7"); err == nil {
		t.Fatalf("expected unknown key id to be rejected")
	}
	out, err := ws.run(t, "identities", "add-key", user.ID.String(), "--key-id", "0")
	if err != nil {
		t.Fatalf("add-key: %v", err)
	}
	if !strings.Contains(out, "private key attached") {
		t.Fatalf("unexpected output: %q", out)
	}
	if rows := listJSON(t, ws); rows[0].Private != 1 {
		t.Fatalf("private key not persisted: %+v", rows[0])
	}
}

const partialOne = `{"total_amount": 100, "withdrawals": [
  {"date_time": "2024-05-01T10:00:00Z", "status": "QUEUED", "amount": 100000000000, "owner_id": "11111111111111111111111111111111", "address": "yAddrA"},
  {"date_time": "2024-05-01T11:00:00Z", "status": "COMPLETE", "amount": 50000000000, "owner_id": "11111111111111111111111111111111", "address": "yAddrB"}
]}`

const partialTwo = `[{"total_amount": 150, "withdrawals": [
  {"date_time": "2024-05-01T10:00:00Z", "status": "QUEUED", "amount": 100000000000, "owner_id": "11111111111111111111111111111111", "address": "yAddrA"},
  {"date_time": "2024-05-02T09:00:00Z", "status": "EXPIRED", "amount": 1, "owner_id": "11111111111111111111111111111111", "address": "yAddrC"}
]}]`

func writeResults(t *testing.T, ws *testWorkspace) (string, string) {
	t.Helper()
	one := filepath.Join(ws.dir, "one.json")
	two := filepath.Join(ws.dir, "two.json")
	if err := os.WriteFile(one, []byte(partialOne), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(two, []byte(partialTwo), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return one, two
}

func TestWithdrawalsView(t *testing.T) {
	ws := newWorkspace(t)
	one, two := writeResults(t, ws)

	out, err := ws.run(t, "withdrawals", "view", one, two, "--json")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	var view struct {
		Records []struct {
			Status string `json:"status"`
			Amount uint64 `json:"amount"`
		} `json:"records"`
		Total       int    `json:"total"`
		TotalAmount uint64 `json:"total_amount"`
		PageSize    int    `json:"page_size"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode view %q: %v", out, err)
	}
	if view.Total != 3 || view.TotalAmount != 150 || view.PageSize != 10 {
		t.Fatalf("unexpected view metadata: %+v", view)
	}
	if len(view.Records) != 2 || view.Records[0].Status != "COMPLETE" {
		t.Fatalf("expired should be hidden and newest first: %+v", view.Records)
	}

	out, err = ws.run(t, "withdrawals", "view", one, two, "--json", "--status", "expired,queued", "--sort", "amount", "--asc")
	if err != nil {
		t.Fatalf("view filtered: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Records) != 2 || view.Records[0].Amount != 1 {
		t.Fatalf("unexpected filtered view: %+v", view.Records)
	}

	out, err = ws.run(t, "withdrawals", "view", one, two)
	if err != nil {
		t.Fatalf("view table: %v", err)
	}
	if !strings.Contains(out, "1.00 DASH") || !strings.Contains(out, "Page 1 of 1") {
		t.Fatalf("unexpected table output:\n%s", out)
	}

	if _, err := ws.run(t, "withdrawals", "view", one, "--page-size", "11"); err == nil {
		t.Fatalf("expected unsupported page size to fail")
	}
}

func TestWithdrawalsExport(t *testing.T) {
	ws := newWorkspace(t)
	one, two := writeResults(t, ws)

	csvPath := filepath.Join(ws.dir, "out.csv")
	if _, err := ws.run(t, "withdrawals", "view", one, two, "--export", csvPath); err != nil {
		t.Fatalf("export csv: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines", len(lines))
	}

	parquetPath := filepath.Join(ws.dir, "out.parquet")
	if _, err := ws.run(t, "withdrawals", "view", one, two, "--export", parquetPath); err != nil {
		t.Fatalf("export parquet: %v", err)
	}
	if info, err := os.Stat(parquetPath); err != nil || info.Size() == 0 {
		t.Fatalf("parquet export missing: %v", err)
	}

	if _, err := ws.run(t, "withdrawals", "view", one, "--export", filepath.Join(ws.dir, "out.xlsx")); err == nil {
		t.Fatalf("expected unsupported export format to fail")
	}
}
