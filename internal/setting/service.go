package setting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation"
	contententity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/setting/repo"
)

const (
	minPeriodHours = 1
	maxPeriodHours = 8760
)

var (
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalid         = errors.New("invalid settings")
)

// Service persists the admin-editable cancellation options and layers them
// over the process configuration.
type Service struct {
	repo   *repo.Repo
	base   cancellation.Config
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

// NewService constructs a Service. base supplies every value the stored
// document does not override.
func NewService(r *repo.Repo, base cancellation.Config, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: r, base: base, clock: clock, logger: logger}
}

// Cancellation returns the stored settings, or the defaults with version 0
// when nothing has been saved yet.
func (s *Service) Cancellation(ctx context.Context) (*entity.CancellationSettings, error) {
	out, err := s.stored(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return s.defaults(), nil
	}
	return out, nil
}

// stored returns nil without error when no document has been saved.
func (s *Service) stored(ctx context.Context) (*entity.CancellationSettings, error) {
	st, err := s.repo.GetByID(ctx, entity.CancellationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load cancellation settings")
	}
	out := s.defaults()
	if err := json.Unmarshal([]byte(st.Value), out); err != nil {
		return nil, errors.Wrap(err, "decode cancellation settings")
	}
	out.Version = st.Version
	return out, nil
}

// UpdateCancellation validates and stores in. in.Version must match the stored
// version (0 when nothing is stored yet).
func (s *Service) UpdateCancellation(ctx context.Context, in *entity.CancellationSettings) (*entity.CancellationSettings, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	expected := in.Version
	out := *in
	out.Version = expected + 1
	value, err := json.Marshal(struct {
		DeletionPeriodHours int      `json:"deletion_period_hours"`
		EmailNotifications  bool     `json:"email_notifications"`
		DeleteContent       bool     `json:"delete_content"`
		ContentTypes        []string `json:"content_types"`
	}{out.DeletionPeriodHours, out.EmailNotifications, out.DeleteContent, out.ContentTypes})
	if err != nil {
		return nil, errors.Wrap(err, "encode cancellation settings")
	}
	st := &entity.Setting{
		ID:        entity.CancellationID,
		Category:  "cancellation",
		Value:     string(value),
		Version:   out.Version,
		UpdatedAt: s.clock.Now().Unix(),
	}

	if expected == 0 {
		if _, err := s.repo.GetByID(ctx, entity.CancellationID); err == nil {
			return nil, ErrVersionConflict
		} else if err != sql.ErrNoRows {
			return nil, errors.Wrap(err, "load cancellation settings")
		}
		if err := s.repo.Create(ctx, st); err != nil {
			return nil, err
		}
	} else {
		rows, err := s.repo.Update(ctx, st, expected)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return nil, ErrVersionConflict
		}
	}
	s.logger.Infow("cancellation settings updated", "version", out.Version,
		"deletion_period_hours", out.DeletionPeriodHours, "delete_content", out.DeleteContent)
	return &out, nil
}

// Current implements cancellation.ConfigSource. Without a saved document, or
// when storage fails, the process configuration is returned unchanged.
func (s *Service) Current(ctx context.Context) cancellation.Config {
	st, err := s.stored(ctx)
	if err != nil {
		s.logger.Warnw("cancellation settings unavailable, using defaults", "error", err)
		return s.base
	}
	if st == nil {
		return s.base
	}
	cfg := s.base
	cfg.GracePeriod = time.Duration(st.DeletionPeriodHours) * time.Hour
	cfg.NotifyOnRequest = st.EmailNotifications
	cfg.DeleteContent = st.DeleteContent
	kinds := make([]contententity.Kind, 0, len(st.ContentTypes))
	for _, t := range st.ContentTypes {
		kinds = append(kinds, contententity.Kind(t))
	}
	cfg.ContentKinds = kinds
	return cfg
}

func (s *Service) defaults() *entity.CancellationSettings {
	types := make([]string, 0, len(s.base.ContentKinds))
	for _, k := range s.base.ContentKinds {
		types = append(types, string(k))
	}
	hours := int(s.base.GracePeriod / time.Hour)
	if hours < minPeriodHours {
		hours = minPeriodHours
	}
	return &entity.CancellationSettings{
		DeletionPeriodHours: hours,
		EmailNotifications:  s.base.NotifyOnRequest,
		DeleteContent:       s.base.DeleteContent,
		ContentTypes:        types,
	}
}

func validate(in *entity.CancellationSettings) error {
	if in.DeletionPeriodHours < minPeriodHours || in.DeletionPeriodHours > maxPeriodHours {
		return fmt.Errorf("%w: deletion_period_hours must be between %d and %d", ErrInvalid, minPeriodHours, maxPeriodHours)
	}
	if in.ContentTypes == nil {
		in.ContentTypes = []string{}
	}
	for _, t := range in.ContentTypes {
		if !contententity.Kind(t).Valid() {
			return fmt.Errorf("%w: unknown content type %q", ErrInvalid, t)
		}
	}
	return nil
}
