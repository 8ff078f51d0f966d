package repository

import "github.com/nimasrn/drone-dispatch/internal/model"

type UserEntity struct {
	ID     int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Name   string `gorm:"column:name;not null"`
	Email  string `gorm:"column:email;index"`
	Role   string `gorm:"column:role;not null;index"`
	Active bool   `gorm:"column:active;not null"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:     e.ID,
		Name:   e.Name,
		Email:  e.Email,
		Role:   model.Role(e.Role),
		Active: e.Active,
	}
}
