package notifylog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the severity of a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindSuccess Kind = "success"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInfo, KindWarning, KindError, KindSuccess:
		return true
	}
	return false
}

// Draft is a notification before the log assigns identity and time.
type Draft struct {
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	EntityID string `json:"entityId,omitempty"`
}

var ErrInvalidDraft = errors.New("invalid notification")

// Validate checks fields supplied by external callers.
func (d Draft) Validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidDraft, d.Kind)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}
	return nil
}

// Notification is one log entry.
type Notification struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"createdAt"`
	Read            bool      `json:"read"`
	RelatedEntityID string    `json:"relatedEntityId,omitempty"`
}
