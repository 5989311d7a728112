/**
 * @description
 * This file implements the data access layer for the payment compliance service.
 * Queries are hand-written SQL executed through a pgx connection pool.
 */
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPlanNotFound          = errors.New("payment plan not found")
	ErrConfigNotFound        = errors.New("configuration not found")
	ErrConfigVersionConflict = errors.New("configuration was modified concurrently")
	ErrCustomerNotFound      = errors.New("customer contact not found")
	ErrReminderNotFound      = errors.New("payment reminder not found")
)

// Repository handles database operations for payments, reminders, policies and plans.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}
