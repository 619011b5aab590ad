// Command accountctl drives the account service from the shell: it creates
// the schema, dispatches orchestrator operations and runs the admin
// transitions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	account "github.com/goliatone/go-account"
	"github.com/goliatone/go-account/activitymap"
	"github.com/goliatone/go-account/config"
	"github.com/goliatone/go-account/mailer"
	"github.com/goliatone/go-account/orchestrator"
	"github.com/goliatone/go-account/persistence"
	"github.com/goliatone/go-account/session"
)

const usage = `usage: accountctl [-env file] <command> [flags]

commands:
  migrate                                   create tables and indexes
  dispatch -op <name> [-session h] [json]   run an orchestrator operation
  block -email <e> [-reason r]              block an account
  unblock -email <e>                        unblock an account
  erased -email <e>                         report whether an email was erased
  events -email <e>                         print the activity trail of an account

Session handles only outlive a single invocation when REDIS_URL is set.
`

type app struct {
	cfg      *config.Config
	db       *bun.DB
	logger   *zap.Logger
	repo     account.RepositoryManager
	accounts *account.Accounts
	orch     *orchestrator.Orchestrator
	closers  []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "accountctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	global := flag.NewFlagSet("accountctl", flag.ContinueOnError)
	envFile := global.String("env", "", "optional .env file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	var paths []string
	if *envFile != "" {
		paths = append(paths, *envFile)
	}

	cfg, err := config.Load(paths...)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "migrate":
		a.logger.Info("schema ready", zap.String("driver", cfg.Database.Driver))
		return nil
	case "dispatch":
		return a.dispatch(ctx, cmdArgs)
	case "block":
		return a.block(ctx, cmdArgs)
	case "unblock":
		return a.unblock(ctx, cmdArgs)
	case "erased":
		return a.erased(ctx, cmdArgs)
	case "events":
		return a.events(ctx, cmdArgs)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(lvl)
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c.OutputPaths = []string{"stderr"}
	return c.Build()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	zl, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: zl}
	a.closers = append(a.closers, func() error {
		_ = zl.Sync()
		return nil
	})

	logger := account.NewZapLogger(zl)
	provider := account.ProviderFromLogger(logger)

	db, err := persistence.Open(ctx, persistence.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.Database.Debug,
		Logger: provider.GetLogger("persistence"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	if err := persistence.Migrate(ctx, db); err != nil {
		a.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	notifierOpts := []account.NotifierOption{
		account.WithNotifierLogger(provider.GetLogger("notifier")),
	}
	if cfg.MailerEnabled() {
		sender, err := mailer.NewPostmark(cfg.MailerConfig())
		if err != nil {
			a.close()
			return nil, err
		}
		notifierOpts = append(notifierOpts, account.WithSender(sender))
	}

	notifier, err := account.NewNotifier(notifierOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	repo := account.NewRepositoryManager(db)
	repo.MustValidate()
	a.repo = repo

	opts := append(cfg.AccountOptions(),
		account.WithLoggerProvider(provider),
		account.WithNotifier(notifier),
		account.WithValidator(account.NewValidator(repo.Users(), cfg.ValidatorOptions()...)),
	)
	a.accounts = account.NewAccounts(repo, opts...)

	sessions, err := a.sessionStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.orch = orchestrator.New(a.accounts, sessions,
		orchestrator.WithLoggerProvider(provider),
		orchestrator.WithDebug(cfg.LogLevel == "debug"),
	)

	return a, nil
}

func (a *app) sessionStore(ctx context.Context) (orchestrator.SessionStore, error) {
	if a.cfg.Redis.URL == "" {
		return session.NewMemoryStore(), nil
	}

	store, err := session.Connect(ctx, a.cfg.Redis.URL,
		session.WithRedisPrefix(a.cfg.Redis.Prefix),
		session.WithRedisTTL(a.cfg.Redis.TTL),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	op := fs.String("op", "", "operation name")
	handle := fs.String("session", "", "session handle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *op == "" {
		return fmt.Errorf("missing -op, one of %v", a.orch.Operations())
	}
	a.warnEphemeralSession(*op, *handle)

	var payload json.RawMessage
	if fs.NArg() > 0 {
		payload = json.RawMessage(fs.Arg(0))
		if !json.Valid(payload) {
			return errors.New("payload is not valid JSON")
		}
	}

	res := a.orch.Handle(ctx, orchestrator.Request{
		Operation: *op,
		Session:   *handle,
		Payload:   payload,
	})

	fmt.Println(print.MaybePrettyJSON(res))
	if res.Status != orchestrator.StatusSuccess {
		return fmt.Errorf("%s: %d %s", *op, res.Code, res.Message)
	}
	return nil
}

// warnEphemeralSession reports whether handle will be lost when the
// process exits, logging a warning when it is.
func (a *app) warnEphemeralSession(op, handle string) bool {
	if handle == "" || a.cfg.Redis.URL != "" {
		return false
	}
	a.logger.Warn("session store is in memory, the handle ends with this process; set REDIS_URL to reuse it",
		zap.String("op", op),
		zap.String("session", handle),
	)
	return true
}

func (a *app) lookup(ctx context.Context, name string, args []string, extra func(*flag.FlagSet)) (*account.User, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *email == "" {
		return nil, errors.New("missing -email")
	}
	return a.accounts.FindByEmail(ctx, *email)
}

func (a *app) block(ctx context.Context, args []string) error {
	var reason *string
	user, err := a.lookup(ctx, "block", args, func(fs *flag.FlagSet) {
		reason = fs.String("reason", "", "why the account is blocked")
	})
	if err != nil {
		return err
	}

	user, err = a.accounts.Block(ctx, cliActor(), user, *reason)
	if err != nil {
		return err
	}

	fmt.Println(print.MaybePrettyJSON(user.Profile()))
	return nil
}

func (a *app) unblock(ctx context.Context, args []string) error {
	user, err := a.lookup(ctx, "unblock", args, nil)
	if err != nil {
		return err
	}

	user, err = a.accounts.Unblock(ctx, cliActor(), user)
	if err != nil {
		return err
	}

	fmt.Println(print.MaybePrettyJSON(user.Profile()))
	return nil
}

func (a *app) erased(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("erased", flag.ContinueOnError)
	email := fs.String("email", "", "email to check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("missing -email")
	}

	gone, err := a.accounts.IsGDPRUnsubscribed(ctx, *email)
	if err != nil {
		return err
	}

	fmt.Println(print.MaybePrettyJSON(map[string]any{
		"email":        *email,
		"unsubscribed": gone,
	}))
	return nil
}

func (a *app) events(ctx context.Context, args []string) error {
	user, err := a.lookup(ctx, "events", args, nil)
	if err != nil {
		return err
	}

	trail, err := a.repo.Events().ListByUser(ctx, user.ID.String())
	if err != nil {
		return err
	}

	fmt.Println(print.MaybePrettyJSON(activitymap.FromRecords(trail,
		activitymap.WithRedactedKeys("previous_email"),
	)))
	return nil
}

func cliActor() account.ActorRef {
	name := os.Getenv("USER")
	if name == "" {
		name = "accountctl"
	}
	return account.ActorRef{ID: name, Type: "cli"}
}
