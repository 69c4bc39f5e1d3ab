package database

import (
	"slices"

	"gorm.io/gorm"
)

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

// SaveUser creates the user or updates the password of an existing one with
// the same username, and replaces its groups.
func SaveUser(username, passwordHash string, groups []string) (*User, error) {
	var u User
	err := DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(User{Username: username}).Assign(User{PasswordHash: passwordHash}).FirstOrCreate(&u).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&UserGroup{}).Error; err != nil {
			return err
		}
		for _, g := range groups {
			if g == "" {
				continue
			}
			if err := tx.Create(&UserGroup{UserID: u.ID, Group: g}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func DeleteUser(id uint) error {
	DB.Where("user_id = ?", id).Delete(&UserGroup{})
	return DB.Delete(&User{}, id).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func GetUserGroups(userID uint) ([]string, error) {
	var rows []UserGroup
	if err := DB.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	groups := make([]string, len(rows))
	for i, r := range rows {
		groups[i] = r.Group
	}
	slices.Sort(groups)
	return groups, nil
}

func UserInGroup(userID uint, group string) bool {
	var count int64
	DB.Model(&UserGroup{}).Where(&UserGroup{UserID: userID, Group: group}).Count(&count)
	return count > 0
}
