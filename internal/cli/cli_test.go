package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/wamcp-ingest/internal/domain"
	"github.com/tbourn/wamcp-ingest/internal/repo"
	"github.com/tbourn/wamcp-ingest/internal/whatsapp"
)

const delivery = `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":` +
	`{"messaging_product":"whatsapp","metadata":{"display_phone_number":"15550001111","phone_number_id":"123"},` +
	`"contacts":[{"profile":{"name":"Ana"},"wa_id":"456"}],` +
	`"messages":[{"from":"456","id":"wamid.C1","timestamp":"1700000000","type":"text","text":{"body":"hi"}}]}}]}]}`

// testEnv points the CLI at a fresh SQLite file and returns its path.
func testEnv(t *testing.T) string {
	t.Helper()
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	path := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("VERIFY_WEBHOOK_SIGNATURE", "false")
	t.Setenv("LOG_LEVEL", "error")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errb bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errb)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func seedRawEvent(t *testing.T, path, status string, payload []byte) string {
	t.Helper()
	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	ev := &domain.RawEvent{
		ID:          "re-1",
		ReceivedAt:  time.Unix(1700000001, 0).UTC(),
		Source:      domain.SourceWhatsApp,
		Fingerprint: whatsapp.Fingerprint(payload),
		HeadersJSON: "{}",
		Payload:     payload,
		ParseStatus: status,
	}
	if _, _, err := repo.InsertRawEvent(context.Background(), db, ev); err != nil {
		t.Fatalf("InsertRawEvent: %v", err)
	}
	return ev.ID
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "wamcp "+Version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMigrateThenStats(t *testing.T) {
	testEnv(t)

	out, err := run(t, "migrate")
	if err != nil || !strings.Contains(out, "schema up to date") {
		t.Fatalf("migrate: %q %v", out, err)
	}

	out, err = run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var st repo.IngestStats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode stats: %v (%s)", err, out)
	}
	if st.RawEvents != 0 || st.Messages != 0 {
		t.Fatalf("expected empty store: %+v", st)
	}
}

func TestReplay_ByStatus(t *testing.T) {
	path := testEnv(t)
	id := seedRawEvent(t, path, domain.ParseStatusStoreFailed, []byte(delivery))

	out, err := run(t, "replay", "--status", domain.ParseStatusStoreFailed)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out != id+"\tprocessed\t1\n" {
		t.Fatalf("unexpected output %q", out)
	}

	// Second run inserts nothing new.
	out, err = run(t, "replay", id)
	if err != nil || out != id+"\tprocessed\t0\n" {
		t.Fatalf("repeat replay: %q %v", out, err)
	}

	out, err = run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var st repo.IngestStats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.RawEvents != 1 || st.Messages != 1 || st.Conversations != 1 || st.ByParseStatus[domain.ParseStatusStoreFailed] != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestReplay_Errors(t *testing.T) {
	testEnv(t)

	if _, err := run(t, "replay"); err == nil || !strings.Contains(err.Error(), "--status") {
		t.Fatalf("expected usage error, got %v", err)
	}

	out, err := run(t, "replay", "no-such-id")
	if err == nil || !strings.Contains(err.Error(), "1 of 1 replays failed") {
		t.Fatalf("expected failure, got %v", err)
	}
	if !strings.HasPrefix(out, "no-such-id\terror\t") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEnvFileAndConfigErrors(t *testing.T) {
	testEnv(t)
	envPath := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(envPath, []byte("QUEUE_BACKEND=kafka\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("QUEUE_BACKEND") })

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", envPath, "stats"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "QUEUE_BACKEND") {
		t.Fatalf("expected config error from env file, got %v", err)
	}
}

func TestLogLevelFlagOverrides(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "--log-level", "debug", "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if _, err := run(t, "--log-level", "loud", "migrate"); err != nil {
		t.Fatalf("unknown levels fall back to info: %v", err)
	}
}
