package identify

import (
	"errors"
	"fmt"
)

// Kind classifies why an identification failed
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidImage
	KindAPI
	KindInvalidResponse
	KindDecoding
	KindNotAnInsect
)

func (k Kind) String() string {
	switch k {
	case KindInvalidImage:
		return "invalid_image"
	case KindAPI:
		return "api_error"
	case KindInvalidResponse:
		return "invalid_response"
	case KindDecoding:
		return "decoding_error"
	case KindNotAnInsect:
		return "not_an_insect"
	default:
		return "unknown"
	}
}

// Fixed user-facing messages
const (
	MsgInvalidImage    = "The selected image could not be processed."
	MsgInvalidResponse = "Unable to analyze the image. Please try again."
	MsgNotAnInsect     = "This does not appear to be an insect. Please photograph an insect for identification."
)

// Error is returned by every vision backend. Error() yields the text shown to the user.
type Error struct {
	Kind       Kind
	Detail     string // provider or decoder message, where the kind carries one
	StatusCode int    // HTTP status for KindAPI, 0 otherwise
	Err        error
}

// Sentinels for errors.Is; only the kind is compared.
var (
	ErrInvalidImage    = &Error{Kind: KindInvalidImage}
	ErrAPI             = &Error{Kind: KindAPI}
	ErrInvalidResponse = &Error{Kind: KindInvalidResponse}
	ErrDecoding        = &Error{Kind: KindDecoding}
	ErrNotAnInsect     = &Error{Kind: KindNotAnInsect}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidImage:
		return MsgInvalidImage
	case KindAPI:
		return e.Detail
	case KindInvalidResponse:
		return MsgInvalidResponse
	case KindDecoding:
		return "Analysis failed: " + e.Detail
	case KindNotAnInsect:
		return MsgNotAnInsect
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "identification failed"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// InvalidImage reports an image that could not be prepared for transport
func InvalidImage(err error) *Error {
	return &Error{Kind: KindInvalidImage, Err: err}
}

// APIError reports a failed request. An empty message falls back to the
// generic status text.
func APIError(status int, message string, err error) *Error {
	if message == "" {
		message = StatusMessage(status)
	}
	return &Error{Kind: KindAPI, Detail: message, StatusCode: status, Err: err}
}

// StatusMessage is used when the provider sent no structured error body
func StatusMessage(status int) string {
	return fmt.Sprintf("API request failed (status %d)", status)
}

// InvalidResponse reports a successful response without usable content
func InvalidResponse(err error) *Error {
	return &Error{Kind: KindInvalidResponse, Err: err}
}

// DecodingError reports content that is not the expected payload
func DecodingError(message string, err error) *Error {
	return &Error{Kind: KindDecoding, Detail: message, Err: err}
}

// NotAnInsect reports a well-formed reply carrying the unknown sentinel
func NotAnInsect() *Error {
	return &Error{Kind: KindNotAnInsect}
}

// KindOf returns the kind of a classified error, KindUnknown otherwise
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the text to show for any error from an identification attempt
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
