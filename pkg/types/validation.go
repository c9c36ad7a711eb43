package types

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate    = validator.New()
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// Validate checks the request and fills in the default message kind.
func (r *SendRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, ErrBlankContent)
	}
	if r.MessageKind == "" {
		r.MessageKind = MessageKindText
	}
	return nil
}

// Validate checks the typing request.
func (r *TypingRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Validate checks a device registration body.
func (r *RegisterDeviceRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Validate checks a device removal body.
func (r *UnregisterDeviceRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}
