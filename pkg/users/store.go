package users

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/openkim/KIMkit/pkg/kimerr"
)

// Store provides database operations for user records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the users table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&User{})
}

// Insert adds a new user record.
func (s *Store) Insert(u *User) error {
	if err := s.db.Create(u).Error; err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Update replaces the record with the given UUID.
func (s *Store) Update(u *User) error {
	result := s.db.Model(&User{}).Where("uuid = ?", u.UUID).Updates(map[string]any{
		"personal_name": u.PersonalName,
		"username":      u.Username,
	})
	if result.Error != nil {
		return fmt.Errorf("update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: uuid %s", kimerr.ErrUnknownUser, u.UUID)
	}
	return nil
}

// Delete removes the record with the given UUID.
func (s *Store) Delete(uuid string) error {
	result := s.db.Where("uuid = ?", uuid).Delete(&User{})
	if result.Error != nil {
		return fmt.Errorf("delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: uuid %s", kimerr.ErrUnknownUser, uuid)
	}
	return nil
}

// FindByUUID returns the user with the given UUID, or nil if absent.
func (s *Store) FindByUUID(uuid string) (*User, error) {
	return s.findOne("uuid = ?", uuid)
}

// FindByUsername returns the user with the given OS username, or nil.
func (s *Store) FindByUsername(username string) (*User, error) {
	return s.findOne("username = ?", username)
}

// FindByName returns the user with the given personal name, or nil.
func (s *Store) FindByName(name string) (*User, error) {
	return s.findOne("personal_name = ?", name)
}

func (s *Store) findOne(query string, arg string) (*User, error) {
	var u User
	if err := s.db.Where(query, arg).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// DropAll removes every user record. Destructive; the Gate restricts
// this to the Administrator.
func (s *Store) DropAll() error {
	if err := s.db.Where("1 = 1").Delete(&User{}).Error; err != nil {
		return fmt.Errorf("drop users: %w", err)
	}
	return nil
}
