package config

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"

	MailNone = "none"
	MailDir  = "dir"
	MailSMTP = "smtp"
)

const minJWTSecretSize = 32

// MailConfig selects how invitation emails are delivered.
type MailConfig struct {
	Kind         string `yaml:"kind" env:"KIND" envDefault:"none"`
	Dir          string `yaml:"dir" env:"DIR"`
	SMTPHost     string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort     int    `yaml:"smtp_port" env:"SMTP_PORT" envDefault:"25"`
	SMTPUser     string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPassword string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	Sender       string `yaml:"sender" env:"SENDER" envDefault:"Parsec <no-reply@parsec.invalid>"`
}

func (self MailConfig) Check() error {
	switch self.Kind {
	case MailNone:
	case MailDir:
		if "" == self.Dir {
			return newError("empty Dir for dir mailer")
		}
	case MailSMTP:
		if "" == self.SMTPHost {
			return newError("empty SMTPHost for smtp mailer")
		}
		if self.SMTPPort <= 0 || self.SMTPPort > 65535 {
			return newError("invalid SMTPPort %d", self.SMTPPort)
		}
	default:
		return newError("invalid mail Kind %q", self.Kind)
	}
	if MailNone != self.Kind && "" == self.Sender {
		return newError("empty Sender")
	}
	return nil
}

// ServerConfig holds the invited server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"INVITED_ADDR" envDefault:":8080"`
	StoreKind       string        `yaml:"store" env:"INVITED_STORE" envDefault:"memory"`
	PostgresDSN     string        `yaml:"postgres_dsn" env:"INVITED_POSTGRES_DSN"`
	PostgresSchema  string        `yaml:"postgres_schema" env:"INVITED_POSTGRES_SCHEMA" envDefault:"invite"`
	BoltPath        string        `yaml:"bolt_path" env:"INVITED_BOLT_PATH"`
	FixturePath     string        `yaml:"fixture" env:"INVITED_FIXTURE"`
	JWTSecret       string        `yaml:"jwt_secret" env:"INVITED_JWT_SECRET"`
	JWTIssuer       string        `yaml:"jwt_issuer" env:"INVITED_JWT_ISSUER" envDefault:"invited"`
	JWTTTL          time.Duration `yaml:"jwt_ttl" env:"INVITED_JWT_TTL" envDefault:"12h"`
	TraceIdHeader   string        `yaml:"trace_id_header" env:"INVITED_TRACE_ID_HEADER" envDefault:"X-Trace-Id"`
	LongPollTimeout time.Duration `yaml:"long_poll_timeout" env:"INVITED_LONG_POLL_TIMEOUT" envDefault:"30s"`
	ClaimerLease    time.Duration `yaml:"claimer_lease" env:"INVITED_CLAIMER_LEASE" envDefault:"60s"`
	PresenceSweep   time.Duration `yaml:"presence_sweep" env:"INVITED_PRESENCE_SWEEP" envDefault:"5s"`
	ServerURL       string        `yaml:"server_url" env:"INVITED_SERVER_URL" envDefault:"http://localhost:8080"`
	Mail            MailConfig    `yaml:"mail" envPrefix:"INVITED_MAIL_"`
	LogLevel        string        `yaml:"log_level" env:"INVITED_LOG_LEVEL" envDefault:"info"`
}

// Load returns the ServerConfig built from the envDefault tags, the optional YAML file at path
// and the environment, each one overriding the previous.
func Load(path string) (ServerConfig, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (ServerConfig, error) {
	var cfg ServerConfig

	// defaults only
	err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	if nil != err {
		return cfg, wrapError(err, "failed applying defaults")
	}

	if "" != path {
		data, err := os.ReadFile(path)
		if nil != err {
			return cfg, wrapError(err, "failed reading %s", path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
		if nil != err && !errors.Is(err, io.EOF) {
			return cfg, wrapError(err, "failed decoding %s", path)
		}
	}

	// environment overrides, defaults are not applied again
	err = env.ParseWithOptions(&cfg, env.Options{
		Environment:         environMap(environ),
		DefaultValueTagName: "noDefault",
	})
	if nil != err {
		return cfg, wrapError(err, "failed reading environment")
	}

	return cfg, nil
}

func environMap(environ []string) map[string]string {
	rv := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, found := strings.Cut(kv, "=")
		if found {
			rv[k] = v
		}
	}
	return rv
}

func (self ServerConfig) Check() error {
	if "" == self.Addr {
		return newError("empty Addr")
	}
	switch self.StoreKind {
	case StoreMemory:
	case StorePostgres:
		if "" == self.PostgresDSN {
			return newError("empty PostgresDSN for postgres store")
		}
		if "" == self.PostgresSchema {
			return newError("empty PostgresSchema for postgres store")
		}
	case StoreBolt:
		if "" == self.BoltPath {
			return newError("empty BoltPath for bolt store")
		}
	default:
		return newError("invalid StoreKind %q", self.StoreKind)
	}
	if len(self.JWTSecret) < minJWTSecretSize {
		return newError("JWTSecret shorter than %d bytes", minJWTSecretSize)
	}
	if self.JWTTTL <= 0 {
		return newError("non positive JWTTTL")
	}
	for name, d := range map[string]time.Duration{
		"LongPollTimeout": self.LongPollTimeout,
		"ClaimerLease":    self.ClaimerLease,
		"PresenceSweep":   self.PresenceSweep,
	} {
		if d <= 0 {
			return newError("non positive %s", name)
		}
	}
	if !slices.ContainsFunc([]string{"http://", "https://"}, func(p string) bool { return strings.HasPrefix(self.ServerURL, p) }) {
		return newError("invalid ServerURL %q", self.ServerURL)
	}
	err := self.Mail.Check()
	if nil != err {
		return wrapError(err, "invalid Mail")
	}
	var lvl slog.Level
	err = lvl.UnmarshalText([]byte(strings.ToUpper(self.LogLevel)))
	if nil != err {
		return wrapError(err, "invalid LogLevel %q", self.LogLevel)
	}
	return nil
}
