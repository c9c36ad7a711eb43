package types

import "errors"

// Validation errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrBlankContent   = errors.New("message content cannot be blank")
	ErrInvalidUserID  = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot only")
)

// Delivery errors returned to the sender of a frame
var (
	ErrAuth              = errors.New("authentication failed")
	ErrNotAMember        = errors.New("sender is not a member of the channel")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrBlocked           = errors.New("recipient does not accept messages from sender")
	ErrStore             = errors.New("message store failure")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// Wire error codes
const (
	CodeNotAMember        = "NOT_A_MEMBER"
	CodeChannelNotFound   = "CHANNEL_NOT_FOUND"
	CodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	CodeBlocked           = "BLOCKED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeStoreFailure      = "STORE_FAILURE"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotAMember, CodeNotAMember},
	{ErrChannelNotFound, CodeChannelNotFound},
	{ErrRecipientNotFound, CodeRecipientNotFound},
	{ErrBlocked, CodeBlocked},
	{ErrRateLimited, CodeRateLimited},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrStore, CodeStoreFailure},
	{ErrAuth, CodeUnauthorized},
}

// ErrorCode maps an error to its wire code. Unknown errors map to INTERNAL.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// NewErrorPayload describes err for a client. Store and internal failures are
// reported without their underlying detail.
func NewErrorPayload(err error, clientRef string) ErrorPayload {
	code := ErrorCode(err)
	message := err.Error()
	switch code {
	case CodeStoreFailure:
		message = ErrStore.Error()
	case CodeInternal:
		message = "internal error"
	}
	return ErrorPayload{
		Code:      code,
		Message:   message,
		ClientRef: clientRef,
	}
}

// ErrorFrame builds the error frame sent back to the originator of a request.
func ErrorFrame(err error, clientRef string) OutboundFrame {
	return NewFrame(FrameError, NewErrorPayload(err, clientRef))
}
