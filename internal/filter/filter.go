// Package filter implements the media matching predicate.
package filter

import (
	"strings"
	"time"

	"tgmusic/internal/config"
	"tgmusic/internal/domain"
)

// Reason names the first criterion that rejected a descriptor, for
// logging. Empty on a match.
type Reason string

const (
	RejectKind Reason = "kind"
	RejectExt  Reason = "extension"
	RejectSize Reason = "size"
	RejectDate Reason = "date"
)

// Match reports whether a descriptor passes every active criterion.
// Inactive criteria (empty sets, zero bounds) impose no restriction.
// A descriptor missing the value an active criterion inspects is
// rejected.
func Match(m domain.Media, f config.Filters) bool {
	_, ok := Evaluate(m, f)
	return ok
}

// Evaluate is Match plus the rejection reason.
func Evaluate(m domain.Media, f config.Filters) (Reason, bool) {
	if !kindAllowed(m, f) {
		return RejectKind, false
	}
	if !extensionAllowed(m, f) {
		return RejectExt, false
	}
	if !sizeAllowed(m, f) {
		return RejectSize, false
	}
	if !dateAllowed(m, f) {
		return RejectDate, false
	}
	return "", true
}

func kindAllowed(m domain.Media, f config.Filters) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if m.Kind == k {
			return true
		}
	}
	return false
}

func extensionAllowed(m domain.Media, f config.Filters) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(m.Extension)
	if ext == "" {
		return false
	}
	for _, allowed := range f.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func sizeAllowed(m domain.Media, f config.Filters) bool {
	if f.MinSize == 0 && f.MaxSize == 0 {
		return true
	}
	if m.Size <= 0 {
		return false
	}
	if m.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && m.Size > f.MaxSize {
		return false
	}
	return true
}

func dateAllowed(m domain.Media, f config.Filters) bool {
	if f.DateFrom.IsZero() && f.DateTo.IsZero() {
		return true
	}
	if m.Date.IsZero() {
		return false
	}
	day := truncateToDay(m.Date)
	if !f.DateFrom.IsZero() && day.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && day.After(f.DateTo) {
		return false
	}
	return true
}

// Date bounds are whole UTC days, so the message timestamp is compared
// on the same basis.
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
