package cropper

import "errors"

// InputError reports a request that can never succeed as sent.
type InputError struct {
	msg string
}

// NewInputError creates an InputError with a client-facing message.
func NewInputError(msg string) *InputError {
	return &InputError{msg: msg}
}

func (e *InputError) Error() string {
	return e.msg
}

// IsInputError reports whether err is or wraps an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
