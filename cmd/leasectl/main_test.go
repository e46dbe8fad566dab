package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository/memory"
	grpcserver "github.com/and161185/leaseflow/internal/server/grpc"
	"github.com/and161185/leaseflow/internal/service"
	"github.com/and161185/leaseflow/internal/signlink"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "leaseflow")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_readAll_File_And_Reader(t *testing.T) {
	t.Parallel()

	tmp := filepath.Join(t.TempDir(), "req.json")
	_ = os.WriteFile(tmp, []byte(`{"a":1}`), 0o600)
	b, err := readAll(nil, tmp)
	if err != nil || string(b) != `{"a":1}` {
		t.Fatalf("readAll(file): %q %v", b, err)
	}
	b, err = readAll(strings.NewReader("from-stdin"), "-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]any{"a": 1}); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Fatalf("printJSON should indent")
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("bearerCreds must require TLS unless plaintext")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext creds must not require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	if creds, err := loadTLS("", true); err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}
	if creds, err := loadTLS("", false); err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}
	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	if creds, err := loadTLS(tmp, false); err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTransitionsCmd(t *testing.T) {
	t.Parallel()

	out, err := execute(t, &app{}, "transitions", "approved")
	require.NoError(t, err)
	require.Equal(t, "approved\tprinted, sent_digital, cancelled\n", out)

	out, err = execute(t, &app{}, "transitions")
	require.NoError(t, err)
	require.Contains(t, out, "archived\t(terminal)\n")
	require.Contains(t, out, "cancelled\tarchived, (terminal)\n")

	_, err = execute(t, &app{}, "transitions", "bogus")
	require.ErrorContains(t, err, "unknown state")
}

func TestTokenCmd(t *testing.T) {
	_ = withTmpConfig(t)
	user := uuid.Must(uuid.NewV4())

	out, err := execute(t, &app{}, "token", "--jwt-key", "k", "--user", user.String(), "--role", "landlord", "--save")
	require.NoError(t, err)
	tok := strings.TrimSpace(out)

	var claims grpcserver.StaffClaims
	_, err = jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return []byte("k"), nil })
	require.NoError(t, err)
	require.Equal(t, user.String(), claims.Subject)
	require.Equal(t, model.RoleLandlord, claims.Role)

	saved, err := loadToken()
	require.NoError(t, err)
	require.Equal(t, tok, saved)

	_, err = execute(t, &app{}, "token", "--jwt-key", "k", "--user", user.String(), "--role", "tenant")
	require.Error(t, err)
	_, err = execute(t, &app{}, "token", "--jwt-key", "k", "--user", "nope")
	require.Error(t, err)
}

type nopSender struct{}

func (nopSender) Send(context.Context, notify.Message) error { return nil }
func (nopSender) Enqueue(notify.Message)                     {}

var _ notify.Sender = nopSender{}

var jwtKey = []byte("cli-test-key")

func startServer(t *testing.T) grpc.DialOption {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New()
	sender := nopSender{}
	audit := service.NewAuditLog(store, nil)
	sm := service.NewStateMachine(store, audit, log, nil)
	otp := service.NewOTPService(store, audit, sender, service.DefaultOTPConfig(), nil, log)
	signing := service.NewSigningService(store, sm, audit, otp,
		signlink.New([]byte("link-key"), "https://leases.example.com"), sender, service.SigningConfig{}, nil, log)
	edits := service.NewEditTracker(store, audit, nil)
	srv := grpcserver.New(grpcserver.Services{
		Workflow:  sm,
		Approvals: service.NewApprovalService(store, sm, audit, nil),
		OTP:       otp,
		Signing:   signing,
		Edits:     edits,
		Disputes:  service.NewDisputeService(store, sm, audit, edits, signing, nil, log),
		Audit:     audit,
	})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcserver.RecoverUnary(log),
		grpcserver.AuthUnary(grpcserver.NewAuthenticator(jwtKey, nil)),
	))
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })
	return grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
}

func TestCallAgainstServer(t *testing.T) {
	t.Parallel()
	a := &app{dialOpts: []grpc.DialOption{startServer(t)}}
	tok, err := grpcserver.IssueToken(jwtKey, uuid.Must(uuid.NewV4()), model.RoleStaff, time.Hour, time.Now())
	require.NoError(t, err)
	global := []string{"--addr", "passthrough:///bufnet", "--plaintext", "--token", tok}
	run := func(args ...string) (map[string]any, error) {
		out, err := execute(t, a, append(global, args...)...)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &m), out)
		return m, nil
	}

	req := `{"reference_number":"LSE-CLI","tenant_id":"` + uuid.Must(uuid.NewV4()).String() + `",
		"tenant_name":"Jane","tenant_phone":"0712345678","monthly_rent":2500000,
		"start_date":"2025-04-01","end_date":"2026-03-31"}`
	lease, err := run("call", "CreateLease", req)
	require.NoError(t, err)
	id, _ := lease["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "draft", lease["workflow_state"])

	next, err := run("lease", "next", id)
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"pending_landlord_approval", "approved", "cancelled"}, next["states"])

	_, err = run("lease", "move", id, "tenant_signed")
	require.ErrorContains(t, err, "INVALID_TRANSITION")

	moved, err := run("lease", "move", id, "cancelled", "--reason", "duplicate")
	require.NoError(t, err)
	require.Equal(t, "cancelled", moved["workflow_state"])

	trail, err := run("audit", id)
	require.NoError(t, err)
	entries, _ := trail["entries"].([]any)
	require.Len(t, entries, 2)

	_, err = run("lease", "signature", id, "--out", filepath.Join(t.TempDir(), "sig.png"))
	require.ErrorContains(t, err, "NOT_FOUND")
	_, err = run("lease", "verify-signature", id)
	require.ErrorContains(t, err, "NOT_FOUND")

	_, err = run("lease", "get", "not-a-uuid")
	require.ErrorContains(t, err, "lease id")
}

func TestCallRejectsBadToken(t *testing.T) {
	t.Parallel()
	a := &app{dialOpts: []grpc.DialOption{startServer(t)}}
	_, err := execute(t, a, "--addr", "passthrough:///bufnet", "--plaintext", "--token", "garbage",
		"lease", "get", uuid.Must(uuid.NewV4()).String())
	require.ErrorContains(t, err, "Unauthenticated")
}
