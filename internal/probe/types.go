package probe

import (
	"fmt"
	"strings"
)

// Status is the discrete health classification of a monitored service.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// ParseStatus normalizes s; unrecognized values map to StatusUnknown with an error.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusOffline, StatusDegraded, StatusUnknown:
		return st, nil
	default:
		return StatusUnknown, fmt.Errorf("invalid service status %q", s)
	}
}

// Service is one service health record.
type Service struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Status         Status   `json:"status"`
	ResponseTimeMs *int64   `json:"responseTimeMs,omitempty"`
	UptimePercent  *float64 `json:"uptimePercent,omitempty"`
	Detail         string   `json:"detail,omitempty"`
}

// DisplayName returns Name, or ID when Name is empty.
func (s Service) DisplayName() string {
	if strings.TrimSpace(s.Name) != "" {
		return s.Name
	}
	return s.ID
}

// Container is one container record as reported by an external enumerator.
type Container struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image,omitempty"`
	State  string            `json:"state"`
	Status string            `json:"status,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Clone returns a copy of s that shares no pointers with it.
func (s Service) Clone() Service {
	if s.ResponseTimeMs != nil {
		v := *s.ResponseTimeMs
		s.ResponseTimeMs = &v
	}
	if s.UptimePercent != nil {
		v := *s.UptimePercent
		s.UptimePercent = &v
	}
	return s
}

// Clone returns a copy of c with its own label map.
func (c Container) Clone() Container {
	if c.Labels != nil {
		labels := make(map[string]string, len(c.Labels))
		for k, v := range c.Labels {
			labels[k] = v
		}
		c.Labels = labels
	}
	return c
}

// CloneServices deep-copies a batch of service records.
func CloneServices(in []Service) []Service {
	if in == nil {
		return nil
	}
	out := make([]Service, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// CloneContainers deep-copies a batch of container records.
func CloneContainers(in []Container) []Container {
	if in == nil {
		return nil
	}
	out := make([]Container, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
