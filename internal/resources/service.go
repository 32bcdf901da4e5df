package resources

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Listing is a read result. Degraded is set when the data came from the catalog
// because the live provider failed.
type Listing struct {
	Region    string     `json:"region"`
	Kind      Kind       `json:"kind"`
	Resources []Resource `json:"resources"`
	Degraded  bool       `json:"degraded"`
}

// Service validates requests and applies the degraded-read policy.
type Service struct {
	regions  []string
	live     Provider
	fallback *Catalog
	logger   *zap.Logger
}

// NewService wires a live provider with its catalog fallback. live may be nil, in
// which case every read is degraded and every action fails.
func NewService(regions []string, live Provider, fallback *Catalog, logger *zap.Logger) *Service {
	if fallback == nil {
		fallback = NewCatalog(regions)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{regions: slices.Clone(regions), live: live, fallback: fallback, logger: logger}
}

// Regions returns the configured regions.
func (s *Service) Regions() []string { return slices.Clone(s.regions) }

func (s *Service) checkRegion(region string) error {
	if !slices.Contains(s.regions, region) {
		return fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	return nil
}

// List reads resources from the live provider, falling back to the catalog on failure.
func (s *Service) List(ctx context.Context, region string, kind Kind) (Listing, error) {
	if err := s.checkRegion(region); err != nil {
		return Listing{}, err
	}
	out := Listing{Region: region, Kind: kind}
	if s.live != nil {
		items, err := s.live.List(ctx, region, kind)
		if err == nil {
			out.Resources = items
			return out, nil
		}
		if ctx.Err() != nil {
			return Listing{}, ctx.Err()
		}
		s.logger.Warn("resources_degraded",
			zap.String("region", region),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	items, err := s.fallback.List(ctx, region, kind)
	if err != nil {
		return Listing{}, err
	}
	out.Resources = items
	out.Degraded = true
	return out, nil
}

// Apply runs a mutating action against the live provider. Actions never fall back.
func (s *Service) Apply(ctx context.Context, region string, kind Kind, req ActionRequest) (Resource, error) {
	if err := s.checkRegion(region); err != nil {
		return Resource{}, err
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Action = Action(strings.ToLower(strings.TrimSpace(string(req.Action))))
	if req.ID == "" {
		return Resource{}, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	if !kind.Supports(req.Action) {
		return Resource{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, req.Action, kind)
	}
	if kind == KindECS {
		cluster, service, ok := strings.Cut(req.ID, "/")
		if !ok || cluster == "" || service == "" {
			return Resource{}, fmt.Errorf("%w: ecs id must be cluster/service", ErrInvalidRequest)
		}
	}
	if req.Action == ActionScale && (req.DesiredCount == nil || *req.DesiredCount < 0) {
		return Resource{}, fmt.Errorf("%w: desiredCount must be zero or more", ErrInvalidRequest)
	}
	if s.live == nil {
		return Resource{}, ErrProviderUnavailable
	}
	res, err := s.live.Apply(ctx, region, kind, req)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRequest) {
			return Resource{}, err
		}
		return Resource{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return res, nil
}
