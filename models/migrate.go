package models

import "gorm.io/gorm"

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&Settings{},
		&Task{},
		&TaskCompletion{},
		&WithdrawalRequest{},
		&LedgerEntry{},
	)
}
