package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation"
	userentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/utilities"
)

var configPath string

func Run(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cancellationctl",
		Short:         "Operate the delayed account deletion workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML file overlaying the cancellation settings from the environment")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the deletion processor until interrupted",
			Args:  cobra.NoArgs,
			RunE:  withApp(serveCmdF),
		},
		&cobra.Command{
			Use:   "drain",
			Short: "Process every due deletion task once",
			Args:  cobra.NoArgs,
			RunE:  withApp(drainCmdF),
		},
		&cobra.Command{
			Use:   "pending",
			Short: "List accounts pending deletion",
			Args:  cobra.NoArgs,
			RunE:  withApp(pendingCmdF),
		},
		&cobra.Command{
			Use:   "request <user-id>",
			Short: "Schedule an account for deletion",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(requestCmdF),
		},
		&cobra.Command{
			Use:   "cancel <user-id>",
			Short: "Cancel a pending deletion and reactivate the account",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(cancelCmdF),
		},
		&cobra.Command{
			Use:   "delete <user-id>",
			Short: "Delete a pending account now",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(deleteCmdF),
		},
		newUseraddCmd(),
	)
	return root
}

type appCmdF func(cmd *cobra.Command, args []string, app *bootstrap.App, logger *zap.SugaredLogger) error

// withApp loads configuration, opens the database and wires the app around f.
func withApp(f appCmdF) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		lg, err := utilities.Init(utilities.ConfigFromEnv())
		if err != nil {
			return errors.Wrap(err, "init logger")
		}
		defer lg.Sync()
		logger := lg.Sugar()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.Database)
		if err != nil {
			return errors.Wrap(err, "open database")
		}
		defer db.Close()

		app, err := bootstrap.New(cmd.Context(), cfg, db, nil, logger)
		if err != nil {
			return err
		}
		defer app.Close()
		return f(cmd, args, app, logger)
	}
}

func loadConfig() (bootstrap.Config, error) {
	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	if configPath != "" {
		cc, err := cancellation.LoadConfigFile(configPath, cfg.Cancellation)
		if err != nil {
			return cfg, errors.Wrapf(err, "load %s", configPath)
		}
		cfg.Cancellation = cc
	}
	return cfg, nil
}

func serveCmdF(cmd *cobra.Command, _ []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	app.Processor.Run(ctx)
	return nil
}

func drainCmdF(cmd *cobra.Command, _ []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
	summary, err := app.Processor.Tick(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

func pendingCmdF(cmd *cobra.Command, _ []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
	items, err := app.Cancellation.ListPending(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), items)
}

func requestCmdF(cmd *cobra.Command, args []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
	// an empty actor never matches the subject, so no session is ended here
	rec, err := app.Cancellation.RequestCancellation(cmd.Context(), args[0], "")
	if err != nil {
		return errors.Wrapf(err, "request cancellation of %s", args[0])
	}
	return printJSON(cmd.OutOrStdout(), rec)
}

func cancelCmdF(cmd *cobra.Command, args []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
	rec, err := app.Cancellation.CancelPendingDeletion(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrapf(err, "cancel deletion of %s", args[0])
	}
	return printJSON(cmd.OutOrStdout(), rec)
}

func deleteCmdF(cmd *cobra.Command, args []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
	report, err := app.Cancellation.ExecuteDeletion(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrapf(err, "delete %s", args[0])
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func newUseraddCmd() *cobra.Command {
	var username, email, password string
	var admin bool
	c := &cobra.Command{
		Use:   "useradd",
		Short: "Create an account; admins can only be created here",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app *bootstrap.App, _ *zap.SugaredLogger) error {
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			userType := userentity.TypeMember
			if admin {
				userType = userentity.TypeAdmin
			}
			id, err := app.Accounts.SignupUser(cmd.Context(), username, email, password, userType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": id, "user_type": userType})
		}),
	}
	c.Flags().StringVar(&username, "username", "", "login name")
	c.Flags().StringVar(&email, "email", "", "email address")
	c.Flags().StringVar(&password, "password", "", "initial password")
	c.Flags().BoolVar(&admin, "admin", false, "grant admin access")
	return c
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
