package handler

import (
	"errors"
	"regexp"

	"github.com/goevery/relay/internal/ierr"
)

// RequestIdValidator checks the request identifiers channels are keyed by.
// They are opaque to the relay, so only their size and printability are
// enforced.
type RequestIdValidator struct {
	requestIdRegex *regexp.Regexp
}

func NewRequestIdValidator() *RequestIdValidator {
	return &RequestIdValidator{
		requestIdRegex: regexp.MustCompile(`^[^\s\p{Cc}]{1,256}$`),
	}
}

func (v *RequestIdValidator) Validate(requestId string) error {
	valid := v.requestIdRegex.MatchString(requestId)
	if !valid {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid requestId"))
	}

	return nil
}
