// Package resources gates the cloud-resource collaborator: listing and toggling EC2
// instances, ECS services and load balancers in the configured regions.
package resources

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is a supported resource type.
type Kind string

const (
	KindEC2 Kind = "ec2"
	KindECS Kind = "ecs"
	KindALB Kind = "alb"
)

// ParseKind normalizes s into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindEC2, KindECS, KindALB:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Action is a mutating operation on a resource.
type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionScale    Action = "scale"
	ActionRedeploy Action = "redeploy"
)

// Supports reports whether kind accepts action. Load balancers are list-only.
func (k Kind) Supports(a Action) bool {
	switch k {
	case KindEC2:
		return a == ActionStart || a == ActionStop
	case KindECS:
		return a == ActionScale || a == ActionRedeploy
	default:
		return false
	}
}

// Resource is the provider-neutral view of one cloud resource.
type Resource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Region       string `json:"region"`
	State        string `json:"state"`
	DesiredCount *int64 `json:"desiredCount,omitempty"`
	RunningCount *int64 `json:"runningCount,omitempty"`
	DNSName      string `json:"dnsName,omitempty"`
}

// ActionRequest asks a provider to mutate one resource.
type ActionRequest struct {
	ID           string `json:"id"`
	Action       Action `json:"action"`
	DesiredCount *int64 `json:"desiredCount,omitempty"`
}

// Provider is the cloud SDK boundary.
type Provider interface {
	List(ctx context.Context, region string, kind Kind) ([]Resource, error)
	Apply(ctx context.Context, region string, kind Kind, req ActionRequest) (Resource, error)
}

var (
	ErrUnknownRegion       = errors.New("resources: unknown region")
	ErrUnknownKind         = errors.New("resources: unknown resource kind")
	ErrUnsupportedAction   = errors.New("resources: action not supported for kind")
	ErrInvalidRequest      = errors.New("resources: invalid request")
	ErrNotFound            = errors.New("resources: not found")
	ErrUpstream            = errors.New("resources: provider call failed")
	ErrProviderUnavailable = errors.New("resources: no live provider configured")
)

func int64p(v int64) *int64 { return &v }
