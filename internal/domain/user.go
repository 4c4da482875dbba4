package domain

import (
	"context"
	"time"
)

// User is a platform-level account stored in the shared schema.
// Tenant-scoped users live inside tenant partitions and are not modelled here.
type User struct {
	ID           string // UUID
	Email        string // Unique email address
	PasswordHash string // Bcrypt hashed password (not returned in API)
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool
}

// UserRepository defines data access for platform users
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
