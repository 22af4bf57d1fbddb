package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wasch-booking-backend/internal/model"
)

// Store defines the interface for all database operations of the booking engine.
// Every method joins the transaction carried by ctx, if any.
type Store interface {
	DB() *gorm.DB
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Machines
	GetMachine(ctx context.Context, number int) (*model.Machine, error)
	ListMachines(ctx context.Context) ([]model.Machine, error)
	CountMachines(ctx context.Context) (int64, error)
	CreateMachine(ctx context.Context, m *model.Machine) error
	SetMachineAvailability(ctx context.Context, number int, available bool) error

	// Users and groups
	GetUser(ctx context.Context, username string) (*model.WashUser, error)
	ListUsers(ctx context.Context, usernames []string) ([]model.WashUser, error)
	CreateUser(ctx context.Context, u *model.WashUser) error
	UpdateUserFlags(ctx context.Context, u *model.WashUser) error
	ReplaceUserGroups(ctx context.Context, u *model.WashUser, groups []string) error
	EnsureGroups(ctx context.Context, names ...string) error

	// Appointments
	GetAppointment(ctx context.Context, id int64) (*model.Appointment, error)
	LockAppointment(ctx context.Context, id int64) (*model.Appointment, error)
	FindAppointment(ctx context.Context, t time.Time, machine int, username string) (*model.Appointment, error)
	ActiveAppointmentAt(ctx context.Context, t time.Time, machine int) (*model.Appointment, error)
	ActiveAppointmentsBetween(ctx context.Context, machines []int, from, to time.Time) ([]model.Appointment, error)
	CountActiveAppointments(ctx context.Context, usernames []string, from, to time.Time) (map[string]int64, error)
	CreateAppointment(ctx context.Context, a *model.Appointment) error
	DeleteAppointment(ctx context.Context, id int64) error
	SetRefundableTransaction(ctx context.Context, id int64, txnID *int64) error
	MarkUsed(ctx context.Context, id int64) error
	MarkCanceled(ctx context.Context, id int64) error
	Reactivate(ctx context.Context, id int64, txnID *int64) error
	ClearRefundableTransaction(ctx context.Context, id, expectedTxnID int64) error
	RefundCandidates(ctx context.Context, scheduledBefore time.Time) ([]model.Appointment, error)

	// Transactions
	CreateTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	TransactionsForAppointment(ctx context.Context, appointmentID int64) ([]model.Transaction, error)

	// Parameters
	GetParameter(ctx context.Context, name string) (string, bool, error)
	SetParameter(ctx context.Context, name, value string) error

	// Bonus ledger
	GetBonusAccount(ctx context.Context, name string) (*model.BonusAccount, error)
	EnsureBonusAccount(ctx context.Context, a *model.BonusAccount) error
	ApplyBonusTransfer(ctx context.Context, t *model.BonusTransfer) error
	GetBonusTransfer(ctx context.Context, reference string) (*model.BonusTransfer, error)
	RefundedBonusAmount(ctx context.Context, parentID int64) (int64, error)

	// Push subscriptions
	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsFor(ctx context.Context, username string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

type txKey struct{}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// WithinTx runs fn in a database transaction carried by the returned context.
// Nested calls join the outer transaction; fn's error rolls everything back.
func (s *gormStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *gormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// --- Machines ---

func (s *gormStore) GetMachine(ctx context.Context, number int) (*model.Machine, error) {
	var m model.Machine
	if err := s.conn(ctx).First(&m, "number = ?", number).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *gormStore) ListMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.conn(ctx).Order("number").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *gormStore) CountMachines(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Machine{}).Count(&n).Error
	return n, err
}

func (s *gormStore) CreateMachine(ctx context.Context, m *model.Machine) error {
	return translate(s.conn(ctx).Create(m).Error)
}

func (s *gormStore) SetMachineAvailability(ctx context.Context, number int, available bool) error {
	res := s.conn(ctx).Model(&model.Machine{}).
		Where("number = ?", number).
		Updates(map[string]any{"is_available": available, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Users ---

func (s *gormStore) GetUser(ctx context.Context, username string) (*model.WashUser, error) {
	var u model.WashUser
	if err := s.conn(ctx).Preload("Groups").First(&u, "username = ?", username).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *gormStore) ListUsers(ctx context.Context, usernames []string) ([]model.WashUser, error) {
	var users []model.WashUser
	if len(usernames) == 0 {
		return users, nil
	}
	if err := s.conn(ctx).Preload("Groups").Where("username IN ?", usernames).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *gormStore) CreateUser(ctx context.Context, u *model.WashUser) error {
	return translate(s.conn(ctx).Omit(clause.Associations).Create(u).Error)
}

// UpdateUserFlags persists activation, status and rights, but not groups.
func (s *gormStore) UpdateUserFlags(ctx context.Context, u *model.WashUser) error {
	res := s.conn(ctx).Model(&model.WashUser{}).
		Where("username = ?", u.Username).
		Updates(map[string]any{
			"is_activated": u.IsActivated,
			"status":       u.Status,
			"is_staff":     u.IsStaff,
			"is_superuser": u.IsSuperuser,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) ReplaceUserGroups(ctx context.Context, u *model.WashUser, groups []string) error {
	members := make([]model.Group, len(groups))
	for i, name := range groups {
		members[i] = model.Group{Name: name}
	}
	if err := s.conn(ctx).Model(u).Association("Groups").Replace(members); err != nil {
		return fmt.Errorf("failed to replace groups of %s: %w", u.Username, err)
	}
	u.Groups = members
	return nil
}

func (s *gormStore) EnsureGroups(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	groups := make([]model.Group, len(names))
	for i, name := range names {
		groups[i] = model.Group{Name: name}
	}
	return s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&groups).Error
}

// --- Parameters ---

func (s *gormStore) GetParameter(ctx context.Context, name string) (string, bool, error) {
	var p model.WashParameter
	err := s.conn(ctx).First(&p, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return p.Value, true, nil
}

func (s *gormStore) SetParameter(ctx context.Context, name, value string) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&model.WashParameter{Name: name, Value: value}).Error
}

// --- Push subscriptions ---

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "username"}),
	}).Create(sub).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.conn(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.conn(ctx).Delete(&model.PushSubscription{}, "endpoint = ?", endpoint).Error
}

func (s *gormStore) SubscriptionsFor(ctx context.Context, username string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.conn(ctx).Where("username = ?", username).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
