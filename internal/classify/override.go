package classify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/docverify/internal/document"
)

var (
	// ErrUnknownCategory is returned when an override names a category outside the taxonomy.
	ErrUnknownCategory = errors.New("unknown failure category")
	// ErrAlreadyOverridden is returned when a record has already been overridden once.
	ErrAlreadyOverridden = errors.New("failure record already overridden")
)

// Override returns a copy of rec re-labelled as category. The detected
// category and every signal field of rec are carried over unchanged.
func Override(rec document.FailureRecord, category document.Category, reason string, at time.Time) (document.FailureRecord, error) {
	if !category.Valid() {
		return document.FailureRecord{}, fmt.Errorf("override to %q: %w", category, ErrUnknownCategory)
	}
	if rec.Overridden {
		return document.FailureRecord{}, fmt.Errorf("override %s: %w", rec.ID, ErrAlreadyOverridden)
	}
	out := rec
	if out.DetectedCategory == "" {
		out.DetectedCategory = rec.Category
	}
	out.Category = category
	out.Overridden = true
	out.OverrideReason = strings.TrimSpace(reason)
	when := at.UTC()
	out.OverriddenAt = &when
	return out, nil
}
