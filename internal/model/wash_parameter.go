package model

// WashParameter is a runtime configuration value, stored as a string and
// converted by its reader.
type WashParameter struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:255;not null"`
}
