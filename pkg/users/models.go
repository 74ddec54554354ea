package users

// User is the GORM model for a KIMkit user record. Identity is the
// UUID4; the operating system username is optional so that outside
// contributors can be credited without an account on this machine.
type User struct {
	UUID         string `gorm:"primaryKey;column:uuid;type:varchar(36)"`
	PersonalName string `gorm:"column:personal_name;index;not null"`
	Username     string `gorm:"column:username;index"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }
