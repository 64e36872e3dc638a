// Package bootstrap assembles the service from its configuration.
package bootstrap

import (
	"context"
	"net/http"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation"
	contentrepo "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/repo"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/notify"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/oidc"
	oidcrepo "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/oidc/repo"
	queuerepo "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/queue/repo"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/router"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/setting"
	settingrepo "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/setting/repo"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
)

// Config is everything New needs besides the database handle.
type Config struct {
	Database     database.Config
	Notify       notify.Config
	Cancellation cancellation.Config
	Issuer       string
	HTTPAddr     string
}

// ConfigFromEnv reads every package's environment configuration.
func ConfigFromEnv() (Config, error) {
	cc, err := cancellation.ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Database:     database.ConfigFromEnv(),
		Notify:       notify.ConfigFromEnv(),
		Cancellation: cc,
		Issuer:       os.Getenv("OIDC_ISSUER"),
		HTTPAddr:     os.Getenv("HTTP_ADDR"),
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "http://localhost:8431"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = "0.0.0.0:8431"
	}
	return cfg, nil
}

// App holds the wired components.
type App struct {
	Users        *userrepo.UserRepo
	Content      *contentrepo.ContentRepo
	Tasks        *queuerepo.TaskRepo
	Accounts     *user.UserService
	Tokens       *oidc.OIDCService
	Settings     *setting.Service
	Cancellation *cancellation.Service
	Processor    *cancellation.Processor
	Handler      http.Handler

	closeNotifier func() error
}

// New ensures the schema and wires every component on db.
func New(ctx context.Context, cfg Config, db *sqlx.DB, clock clockwork.Clock, logger *zap.SugaredLogger) (*App, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	a := &App{
		Users:   userrepo.NewUserRepo(db),
		Content: contentrepo.NewContentRepo(db),
		Tasks:   queuerepo.NewTaskRepo(db),
	}
	refresh := oidcrepo.NewRefreshRepo(db)
	settings := settingrepo.NewRepo(db)

	for name, ensure := range map[string]func(context.Context) error{
		"users":    a.Users.EnsureTable,
		"content":  a.Content.EnsureTables,
		"tasks":    a.Tasks.EnsureTable,
		"refresh":  refresh.EnsureTable,
		"settings": settings.EnsureTable,
	} {
		if err := ensure(ctx); err != nil {
			return nil, errors.Wrapf(err, "ensure %s schema", name)
		}
	}

	sender, closeNotifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		return nil, errors.Wrap(err, "init notifier")
	}
	a.closeNotifier = closeNotifier

	a.Tokens, err = oidc.NewOIDCService(refresh, cfg.Issuer, clock, logger)
	if err != nil {
		_ = closeNotifier()
		return nil, errors.Wrap(err, "init token service")
	}
	a.Accounts = user.NewUserService(a.Users, user.BcryptHasher{})
	a.Settings = setting.NewService(settings, cfg.Cancellation, clock, logger)
	a.Cancellation = cancellation.NewService(cancellation.Dependencies{
		Accounts: a.Users,
		Content:  a.Content,
		Queue:    a.Tasks,
		Notifier: sender,
		Sessions: a.Tokens,
		Config:   a.Settings,
		Clock:    clock,
		Logger:   logger,
	})
	a.Processor = cancellation.NewProcessor(a.Cancellation, a.Tasks)

	a.Handler = router.RegisterRoutes(logger, router.Handlers{
		Tokens:       a.Tokens,
		OIDC:         oidc.NewHandler(a.Tokens, a.Accounts, logger),
		User:         user.NewHandler(a.Accounts, logger),
		Cancellation: cancellation.NewHandler(a.Cancellation, logger),
		Setting:      setting.NewHandler(a.Settings, logger),
	})
	return a, nil
}

// Close releases the notifier transport. The database is owned by the caller.
func (a *App) Close() error {
	if a.closeNotifier == nil {
		return nil
	}
	return a.closeNotifier()
}
