package domain

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

// Record is a JSON document stored in a tenant database. The tenant is never
// part of the record; it is implied by the database the record lives in.
type Record struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r Record) Validate() error {
	if err := ValidateCategory(r.Collection); err != nil {
		return err
	}
	if err := ValidateKey(r.ID); err != nil {
		return err
	}
	if !json.Valid(r.Data) {
		return errors.New("data must be valid json")
	}
	return nil
}

func ValidateKey(key string) error {
	if key == "" || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

func ValidateCategory(category string) error {
	if category == "" || !keyPattern.MatchString(category) {
		return ErrInvalidCategory
	}
	return nil
}

type RecordListFilter struct {
	Prefix string
	After  string
	Limit  int
}

func (f RecordListFilter) Validate() error {
	if f.Prefix != "" && !keyPattern.MatchString(f.Prefix) {
		return ErrInvalidKey
	}
	if f.After != "" {
		if err := ValidateKey(f.After); err != nil {
			return err
		}
	}
	return nil
}
