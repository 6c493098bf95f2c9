// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/docverify/internal/document"
)

var _ document.Clock = Clock{}

// Clock reports the current time in UTC.
type Clock struct{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
