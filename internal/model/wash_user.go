package model

import "time"

// Status is the ordered tier of a WashUser.
type Status int

const (
	StatusEnduser   Status = 1
	StatusExWaschag Status = 3
	StatusWaschag   Status = 5
	StatusAdmin     Status = 7
	StatusGod       Status = 9
)

// Group names granted through activation.
const (
	GroupEnduser = "enduser"
	GroupWaschag = "waschag"
	GroupAdmin   = "waschadmin"
)

// Valid reports whether s is one of the known tiers.
func (s Status) Valid() bool {
	switch s {
	case StatusEnduser, StatusExWaschag, StatusWaschag, StatusAdmin, StatusGod:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusEnduser:
		return "enduser"
	case StatusExWaschag:
		return "exWaschag"
	case StatusWaschag:
		return "waschag"
	case StatusAdmin:
		return "admin"
	case StatusGod:
		return "god"
	}
	return "unknown"
}

// Group is a named capability set. Membership in GroupEnduser is required to book.
type Group struct {
	Name string `gorm:"primaryKey;size:64"`
}

// WashUser is the booking-side view of an account.
type WashUser struct {
	Username    string `gorm:"primaryKey;size:150"`
	IsActivated bool   `gorm:"not null"`
	Status      Status `gorm:"not null"`
	IsStaff     bool   `gorm:"not null"`
	IsSuperuser bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Associations
	Groups []Group `gorm:"many2many:wash_user_groups;"`
}

// InGroup reports whether the user is a member of the named group.
// Groups must have been preloaded.
func (u *WashUser) InGroup(name string) bool {
	for _, g := range u.Groups {
		if g.Name == name {
			return true
		}
	}
	return false
}
