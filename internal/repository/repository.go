package repository

import (
	"github.com/prperemyshlev/step-sync-service/internal/utils"
	"github.com/prperemyshlev/step-sync-service/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User       UserRepository
	DailySteps DailyStepsRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *database.Postgres, cipher *utils.TokenCipher) *Repositories {
	return &Repositories{
		User:       NewUserRepository(db, cipher),
		DailySteps: NewDailyStepsRepository(db),
	}
}
