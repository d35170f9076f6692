package core

import (
	"fmt"
	"strings"
)

func ValidateFieldName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyFieldName
	}
	return nil
}

func ValidatePrimaryKey(field string) error {
	if err := ValidateFieldName(field); err != nil {
		return fmt.Errorf("%w: %w", ErrEmptyPrimaryKey, err)
	}
	return nil
}

// ValidateFields checks every field name in data.
func ValidateFields(data Fields) error {
	for name := range data {
		if err := ValidateFieldName(name); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}
