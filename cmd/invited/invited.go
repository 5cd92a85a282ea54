package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/config"
	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite/api"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite/boltdb"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite/pgdb"
	"github.com/Scille/parsec-cloud-sub013/pkg/mail"
)

const usageFmt = `
Command Usage: %s [Flags]
  Run the Parsec invitation server.
  Environment variables INVITED_* override the configuration file values.

Flags:
------
`

const shutdownTimeout = 10 * time.Second

type Cmd struct {
	Cfg config.ServerConfig
}

func parseFlags(progname string, args []string) *Cmd {
	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	var cfgPath string
	flags.StringVar(&cfgPath, "c", "", `path of the YAML configuration file`)

	flags.Parse(args)

	cfg, err := config.Load(cfgPath)
	if nil != err {
		log.Fatalf("Failed loading configuration, got error %v", err)
	}
	err = cfg.Check()
	if nil != err {
		log.Fatalf("Invalid configuration, got error %v", err)
	}

	return &Cmd{Cfg: cfg}
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Run(ctx)
	if nil != err {
		log.Fatalf("Failed running invited, got error %v", err)
	}
}

// Run serves the invitation API until ctx is done.
func (self *Cmd) Run(ctx context.Context) error {
	cfg := self.Cfg

	logger, err := observability.NewLogger(os.Stderr, cfg.LogLevel)
	if nil != err {
		return err
	}
	ctx = observability.SetObservability(ctx, &observability.Observability{Logger: logger})

	store, identity, closeStores, err := self.openStores(ctx)
	if nil != err {
		return err
	}
	defer closeStores()

	mailer, err := self.mailer()
	if nil != err {
		return err
	}

	svc, err := invite.NewService(invite.Config{
		Store:           store,
		Identity:        identity,
		Mailer:          mailer,
		ServerURL:       cfg.ServerURL,
		LongPollTimeout: cfg.LongPollTimeout,
		ClaimerLease:    cfg.ClaimerLease,
	})
	if nil != err {
		return fmt.Errorf("failed Service creation: %w", err)
	}

	hdlr, err := api.NewHandler(api.ServerCfg{
		Service: svc,
		Tokens: api.TokenAuthority{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
			TTL:    cfg.JWTTTL,
		},
		TraceIdHeader: cfg.TraceIdHeader,
	})
	if nil != err {
		return fmt.Errorf("failed API handler creation: %w", err)
	}

	go func() {
		err := svc.RunPresenceSweeper(ctx, cfg.PresenceSweep)
		if nil != err && !errors.Is(err, context.Canceled) {
			logger.Error("presence sweeper stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           hdlr,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("invited listening", "addr", cfg.Addr, "store", cfg.StoreKind, "mail", cfg.Mail.Kind)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
		return fmt.Errorf("failed serving HTTP: %w", err)
	case <-ctx.Done():
	}

	logger.Info("invited shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStores returns the configured invite.Store & invite.IdentityProvider and a function releasing them.
func (self *Cmd) openStores(ctx context.Context) (invite.Store, invite.IdentityProvider, func(), error) {
	cfg := self.Cfg
	noop := func() {}

	var fixture config.Fixture
	if "" != cfg.FixturePath {
		var err error
		fixture, err = config.LoadFixture(cfg.FixturePath)
		if nil != err {
			return nil, nil, noop, err
		}
	}

	if config.StorePostgres == cfg.StoreKind {
		pool, err := pgdb.Connect(ctx, cfg.PostgresDSN, cfg.PostgresSchema)
		if nil != err {
			return nil, nil, noop, err
		}
		err = pgdb.Migrate(ctx, pool, cfg.PostgresSchema)
		if nil != err {
			pool.Close()
			return nil, nil, noop, err
		}
		identity := &pgdb.Identity{DB: pool}
		err = fixture.Seed(ctx, identity)
		if nil != err {
			pool.Close()
			return nil, nil, noop, err
		}
		return &pgdb.Store{DB: pool}, identity, pool.Close, nil
	}

	identity := invite.NewMemIdentity()
	err := fixture.Seed(ctx, config.MemWriter{Identity: identity})
	if nil != err {
		return nil, nil, noop, err
	}

	if config.StoreBolt == cfg.StoreKind {
		store, err := boltdb.New(cfg.BoltPath)
		if nil != err {
			return nil, nil, noop, err
		}
		closeStore := func() {
			if err := store.Close(); nil != err {
				observability.GetObservability(ctx).Log().Error("failed closing bolt store", "error", err)
			}
		}
		return store, identity, closeStore, nil
	}

	return invite.NewMemStore(), identity, noop, nil
}

// mailer returns the configured invite.Mailer, nil when emails are disabled.
func (self *Cmd) mailer() (invite.Mailer, error) {
	mc := self.Cfg.Mail
	switch mc.Kind {
	case config.MailDir:
		return mail.DirMailer{Dir: mc.Dir, Sender: mc.Sender}, nil
	case config.MailSMTP:
		m := mail.SMTPMailer{
			Host:     mc.SMTPHost,
			Port:     mc.SMTPPort,
			User:     mc.SMTPUser,
			Password: mc.SMTPPassword,
			Sender:   mc.Sender,
		}
		err := m.Check()
		if nil != err {
			return nil, fmt.Errorf("invalid smtp mailer: %w", err)
		}
		return m, nil
	default:
		return nil, nil
	}
}
