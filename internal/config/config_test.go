package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0o600)
	if nil != err {
		t.Fatalf("failed writing %s, got error %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", nil)
	if nil != err {
		t.Fatalf("failed load, got error %v", err)
	}
	if ":8080" != cfg.Addr {
		t.Errorf("failed Addr control, %q != :8080", cfg.Addr)
	}
	if StoreMemory != cfg.StoreKind {
		t.Errorf("failed StoreKind control, %q != memory", cfg.StoreKind)
	}
	if 30*time.Second != cfg.LongPollTimeout || 60*time.Second != cfg.ClaimerLease || 5*time.Second != cfg.PresenceSweep {
		t.Errorf("failed durations control, got %v, %v & %v", cfg.LongPollTimeout, cfg.ClaimerLease, cfg.PresenceSweep)
	}
	if MailNone != cfg.Mail.Kind || 25 != cfg.Mail.SMTPPort {
		t.Errorf("failed Mail control, got %+v", cfg.Mail)
	}

	// no secret by default
	if nil == cfg.Check() {
		t.Errorf("failed Check control on defaults")
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "invited.yaml", `
addr: ":9000"
store: bolt
bolt_path: /var/lib/invited/db
jwt_secret: `+testSecret+`
long_poll_timeout: 10s
mail:
  kind: smtp
  smtp_host: mail.example.org
`)
	environ := []string{
		"INVITED_ADDR=:9100",
		"INVITED_MAIL_SMTP_PORT=587",
		"UNRELATED=1",
	}

	cfg, err := load(path, environ)
	if nil != err {
		t.Fatalf("failed load, got error %v", err)
	}
	if ":9100" != cfg.Addr {
		t.Errorf("failed env override control, %q != :9100", cfg.Addr)
	}
	if StoreBolt != cfg.StoreKind || "/var/lib/invited/db" != cfg.BoltPath {
		t.Errorf("failed file values control, got %q & %q", cfg.StoreKind, cfg.BoltPath)
	}
	if 10*time.Second != cfg.LongPollTimeout {
		t.Errorf("failed file duration control, %v != 10s", cfg.LongPollTimeout)
	}
	if 60*time.Second != cfg.ClaimerLease {
		t.Errorf("failed default kept control, %v != 60s", cfg.ClaimerLease)
	}
	if MailSMTP != cfg.Mail.Kind || "mail.example.org" != cfg.Mail.SMTPHost || 587 != cfg.Mail.SMTPPort {
		t.Errorf("failed Mail control, got %+v", cfg.Mail)
	}
	err = cfg.Check()
	if nil != err {
		t.Errorf("failed Check, got error %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if nil == err {
		t.Errorf("failed missing file control")
	}

	path := writeFile(t, "unknown.yaml", "adress: \":80\"\n")
	_, err = load(path, nil)
	if nil == err {
		t.Errorf("failed unknown field control")
	}

	_, err = load("", []string{"INVITED_LONG_POLL_TIMEOUT=soon"})
	if nil == err {
		t.Errorf("failed invalid duration control")
	}
}

func TestCheck(t *testing.T) {
	valid := func() ServerConfig {
		cfg, err := load("", []string{"INVITED_JWT_SECRET=" + testSecret})
		if nil != err {
			t.Fatalf("failed load, got error %v", err)
		}
		return cfg
	}
	if err := valid().Check(); nil != err {
		t.Fatalf("failed Check on valid config, got error %v", err)
	}

	testcases := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{name: "unknown store", mutate: func(c *ServerConfig) { c.StoreKind = "redis" }},
		{name: "postgres without dsn", mutate: func(c *ServerConfig) { c.StoreKind = StorePostgres }},
		{name: "bolt without path", mutate: func(c *ServerConfig) { c.StoreKind = StoreBolt }},
		{name: "short secret", mutate: func(c *ServerConfig) { c.JWTSecret = "short" }},
		{name: "zero long poll", mutate: func(c *ServerConfig) { c.LongPollTimeout = 0 }},
		{name: "relative server url", mutate: func(c *ServerConfig) { c.ServerURL = "parsec.example.org" }},
		{name: "dir mailer without dir", mutate: func(c *ServerConfig) { c.Mail.Kind = MailDir }},
		{name: "smtp mailer without host", mutate: func(c *ServerConfig) { c.Mail.Kind = MailSMTP }},
		{name: "unknown mailer", mutate: func(c *ServerConfig) { c.Mail.Kind = "pigeon" }},
		{name: "unknown log level", mutate: func(c *ServerConfig) { c.LogLevel = "chatty" }},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if nil == cfg.Check() {
				t.Errorf("failed Check control")
			}
		})
	}
}

func TestFixtureSeed(t *testing.T) {
	path := writeFile(t, "fixture.yaml", `
organizations:
  - id: CoolOrg
    outsider_allowed: true
    users:
      - id: alice
        human_handle: {email: alice@example.org, label: Alice}
        profile: ADMIN
        devices:
          - {id: alice@dev1, label: dev1}
      - id: bob
        human_handle: {email: bob@example.org, label: Bob}
        profile: STANDARD
        revoked: true
`)
	fixture, err := LoadFixture(path)
	if nil != err {
		t.Fatalf("failed LoadFixture, got error %v", err)
	}

	ident := invite.NewMemIdentity()
	ctx := context.Background()
	err = fixture.Seed(ctx, MemWriter{Identity: ident})
	if nil != err {
		t.Fatalf("failed Seed, got error %v", err)
	}

	var org invite.Organization
	err = ident.LoadOrganization(ctx, "CoolOrg", &org)
	if nil != err || !org.OutsiderAllowed {
		t.Errorf("failed organization control, got %+v & error %v", org, err)
	}
	var user invite.User
	err = ident.LoadUser(ctx, "CoolOrg", "alice", &user)
	if nil != err || invite.ProfileAdmin != user.Profile || "alice@example.org" != user.HumanHandle.Email {
		t.Errorf("failed user control, got %+v & error %v", user, err)
	}
	var device invite.Device
	err = ident.LoadDevice(ctx, "CoolOrg", "alice@dev1", &device)
	if nil != err || "dev1" != device.Label {
		t.Errorf("failed device control, got %+v & error %v", device, err)
	}
	err = ident.FindUserByEmail(ctx, "CoolOrg", "bob@example.org", &user)
	if nil == err {
		t.Errorf("failed revoked user control, bob found by email")
	}
}
