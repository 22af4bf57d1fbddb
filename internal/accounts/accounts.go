// Package accounts manages WashUsers: the one-time setup of the special god
// and service accounts, and activation of ordinary users.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"wasch-booking-backend/internal/model"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
)

const (
	GodUsername     = "WaschRoss"
	ServiceUsername = "wasch-service"
)

// DefaultMachines are created, unavailable, when no machine exists yet.
var DefaultMachines = []int{1, 2, 3}

var (
	// ErrGodForbidden is returned for changes the god user cannot undergo.
	ErrGodForbidden  = errors.New("operation not permitted on the god user")
	ErrInvalidStatus = errors.New("invalid status")
)

// Specials holds the accounts created by Setup. It is built once at startup
// and passed to every component that needs it.
type Specials struct {
	God     *model.WashUser
	Service *model.WashUser
}

// Service administers WashUsers.
type Service struct {
	store store.Store
	log   *logging.Logger
}

// NewService creates a user administration service.
func NewService(s store.Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: s, log: logger}
}

// Setup creates the groups, the god and service users, and the default
// machines if the database has none. It is idempotent.
func (s *Service) Setup(ctx context.Context) (*Specials, error) {
	var specials Specials
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureGroups(ctx, model.GroupEnduser, model.GroupWaschag, model.GroupAdmin); err != nil {
			return fmt.Errorf("failed to create groups: %w", err)
		}

		god, err := s.ensureUser(ctx, GodUsername, model.StatusGod)
		if err != nil {
			return err
		}
		if err := s.grant(ctx, god); err != nil {
			return err
		}

		service, err := s.ensureUser(ctx, ServiceUsername, model.StatusAdmin)
		if err != nil {
			return err
		}

		n, err := s.store.CountMachines(ctx)
		if err != nil {
			return fmt.Errorf("failed to count machines: %w", err)
		}
		if n == 0 {
			for _, number := range DefaultMachines {
				if err := s.store.CreateMachine(ctx, &model.Machine{Number: number, IsAvailable: false}); err != nil {
					return fmt.Errorf("failed to create machine %d: %w", number, err)
				}
			}
			s.log.Info("created default machines", "machines", DefaultMachines)
		}

		specials = Specials{God: god, Service: service}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &specials, nil
}

func (s *Service) ensureUser(ctx context.Context, username string, status model.Status) (*model.WashUser, error) {
	u, err := s.store.GetUser(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load %s: %w", username, err)
	}
	u = &model.WashUser{Username: username, Status: status}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", username, err)
	}
	s.log.Info("created special user", "username", username, "status", status.String())
	return u, nil
}

// CreateEnduser registers a new, not yet activated end user.
func (s *Service) CreateEnduser(ctx context.Context, username string) (*model.WashUser, error) {
	u := &model.WashUser{Username: username, Status: model.StatusEnduser}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return u, nil
}

// Activate grants u the groups and rights of its status tier.
func (s *Service) Activate(ctx context.Context, username string) (*model.WashUser, error) {
	var u *model.WashUser
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if u, err = s.store.GetUser(ctx, username); err != nil {
			return err
		}
		return s.grant(ctx, u)
	})
	return u, err
}

// Deactivate revokes all groups and rights. The god user cannot be deactivated.
func (s *Service) Deactivate(ctx context.Context, username string) (*model.WashUser, error) {
	var u *model.WashUser
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if u, err = s.store.GetUser(ctx, username); err != nil {
			return err
		}
		if u.Status == model.StatusGod {
			return ErrGodForbidden
		}
		u.IsActivated, u.IsStaff, u.IsSuperuser = false, false, false
		if err := s.store.UpdateUserFlags(ctx, u); err != nil {
			return err
		}
		return s.store.ReplaceUserGroups(ctx, u, nil)
	})
	return u, err
}

// SetStatus changes the tier of a user and, if activated, re-applies its rights.
// The god tier can neither be granted nor taken away.
func (s *Service) SetStatus(ctx context.Context, username string, status model.Status) (*model.WashUser, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(status))
	}
	if status == model.StatusGod {
		return nil, ErrGodForbidden
	}
	var u *model.WashUser
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if u, err = s.store.GetUser(ctx, username); err != nil {
			return err
		}
		if u.Status == model.StatusGod {
			return ErrGodForbidden
		}
		u.Status = status
		if u.IsActivated {
			return s.grant(ctx, u)
		}
		return s.store.UpdateUserFlags(ctx, u)
	})
	return u, err
}

// grant activates u and applies the groups and rights of its tier.
func (s *Service) grant(ctx context.Context, u *model.WashUser) error {
	u.IsActivated = true
	u.IsStaff = u.Status >= model.StatusWaschag
	u.IsSuperuser = u.Status == model.StatusGod
	if err := s.store.UpdateUserFlags(ctx, u); err != nil {
		return err
	}
	return s.store.ReplaceUserGroups(ctx, u, GroupsFor(u.Status))
}

// GroupsFor lists the groups an activated user of the given tier belongs to.
func GroupsFor(status model.Status) []string {
	groups := []string{model.GroupEnduser}
	if status >= model.StatusWaschag {
		groups = append(groups, model.GroupWaschag)
	}
	if status >= model.StatusAdmin {
		groups = append(groups, model.GroupAdmin)
	}
	return groups
}
