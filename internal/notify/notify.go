package notify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const TemplatePendingDeletion = "pending_deletion"

// Params keys understood by the templates.
const (
	ParamUsername     = "username"
	ParamEmail        = "email"
	ParamSite         = "site"
	ParamDeletionDate = "deletion_date"
)

// Sender delivers one templated message about a subject.
type Sender interface {
	Send(ctx context.Context, subjectID, tmpl string, params map[string]string) error
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[string]messageTemplate{
	TemplatePendingDeletion: {
		subject: template.Must(template.New("subject").Parse(
			`Account cancellation request for {{.username}} at {{.site}}`)),
		body: template.Must(template.New("body").Parse(`Hello {{.username}},

Your account cancellation request has been received at {{.site}}.

Your account will be permanently deleted on {{.deletion_date}} unless you take action to cancel this request.

If you change your mind, please contact site administration immediately.

This action cannot be undone after the deletion date.

Thank you,
The {{.site}} team
`)),
	},
}

// Render fills the named template with params.
func Render(name string, params map[string]string) (Message, error) {
	t, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", name)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, params); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, params); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}

type Config struct {
	Kind string // smtp / redis / log

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	RedisURL     string
	RedisChannel string
}

// ConfigFromEnv reads NOTIFIER, SMTP_* and REDIS_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Kind:         strings.ToLower(os.Getenv("NOTIFIER")),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     os.Getenv("SMTP_PORT"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RedisChannel: os.Getenv("REDIS_CHANNEL"),
	}
	if cfg.Kind == "" {
		cfg.Kind = "log"
	}
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUsername
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.RedisChannel == "" {
		cfg.RedisChannel = AccountEventsChannel
	}
	return cfg
}

// New builds the sender selected by cfg.Kind. The returned close func
// releases connections held by the sender.
func New(cfg Config, logger *zap.SugaredLogger) (Sender, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Kind {
	case "log":
		return NewLogNotifier(logger), nop, nil
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, nop, fmt.Errorf("SMTP_HOST is required for the smtp notifier")
		}
		return NewSMTPNotifier(cfg, logger), nop, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nop, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		return NewRedisNotifier(rdb, cfg.RedisChannel, logger), rdb.Close, nil
	}
	return nil, nop, fmt.Errorf("unknown notifier %q", cfg.Kind)
}

// LogNotifier only logs the rendered message.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier { return &LogNotifier{logger: logger} }

func (n *LogNotifier) Send(ctx context.Context, subjectID, tmpl string, params map[string]string) error {
	msg, err := Render(tmpl, params)
	if err != nil {
		return err
	}
	n.logger.Infow("notification", "subject_id", subjectID, "template", tmpl, "to", params[ParamEmail], "title", msg.Subject)
	return nil
}
