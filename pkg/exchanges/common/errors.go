package common

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures where the request may or may not have reached the venue.
	ErrTransient = errors.New("transient exchange error")
	// ErrOrderNotFound means no index knows the order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyFinal means a cancel hit an order that is already filled or canceled.
	ErrOrderAlreadyFinal = errors.New("order already final")
	// ErrLeverageConfiguration is fatal at startup.
	ErrLeverageConfiguration = errors.New("leverage configuration failed")
)

// RejectedError is a definitive rejection carrying the venue's code.
type RejectedError struct {
	Code string
	Msg  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected: code=%s msg=%s", e.Code, e.Msg)
}

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
