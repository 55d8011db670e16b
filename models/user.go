package models

import "gorm.io/gorm"

// User identity is established by an external service; this row only anchors
// the user side of message threads.
type User struct {
	gorm.Model
	Email    string `gorm:"uniqueIndex;size:120;not null"`
	Username string `gorm:"uniqueIndex;size:80;not null"`
}
