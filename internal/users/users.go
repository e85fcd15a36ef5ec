// Package users owns the slice of the users table this service touches:
// the contact and address fields refreshed at settlement, and email lookup
// for checkout and notifications.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrUserNotFound = errors.New("user not found")

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// ContactInfo is the shipping address collected by the payment provider
// during checkout.
type ContactInfo struct {
	AddressLine1 string
	AddressLine2 string
	City         string
	County       string
	Postcode     string
}

// UpdateContactInfo writes the address collected at checkout back onto the
// user, or just the phone number when no address was collected.
func (c *Conf) UpdateContactInfo(ctx context.Context, userID int64, info *ContactInfo, phone string) error {
	if info != nil {
		res, err := c.db.ExecContext(ctx, `
			UPDATE users SET
				address_line1 = $1,
				address_line2 = $2,
				city = $3,
				county = $4,
				postcode = $5,
				phone_number = $6
			WHERE id = $7
		`, info.AddressLine1, info.AddressLine2, info.City, info.County, info.Postcode, phone, userID)
		if err != nil {
			return fmt.Errorf("failed to update contact info: %w", err)
		}
		return checkAffected(res)
	}

	if phone == "" {
		return nil
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE users SET phone_number = $1 WHERE id = $2`, phone, userID)
	if err != nil {
		return fmt.Errorf("failed to update phone number: %w", err)
	}
	return checkAffected(res)
}

// GetEmail returns the user's email address.
func (c *Conf) GetEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := c.db.QueryRowContext(ctx,
		`SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to query user email: %w", err)
	}
	return email, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
