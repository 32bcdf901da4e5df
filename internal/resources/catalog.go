package resources

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Catalog is an in-process inventory. It serves degraded reads when the live provider
// fails, and stands in for AWS entirely in local sandbox runs.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]map[Kind][]Resource
}

// NewCatalog seeds a fixed inventory for each region.
func NewCatalog(regions []string) *Catalog {
	c := &Catalog{items: make(map[string]map[Kind][]Resource, len(regions))}
	for _, region := range regions {
		short := strings.ReplaceAll(region, "-", "")
		c.items[region] = map[Kind][]Resource{
			KindEC2: {
				{ID: "i-" + short + "0001", Name: "bastion", Kind: KindEC2, Region: region, State: "running"},
				{ID: "i-" + short + "0002", Name: "batch-worker", Kind: KindEC2, Region: region, State: "stopped"},
			},
			KindECS: {
				{ID: "main/api", Name: "api", Kind: KindECS, Region: region, State: "ACTIVE", DesiredCount: int64p(2), RunningCount: int64p(2)},
				{ID: "main/worker", Name: "worker", Kind: KindECS, Region: region, State: "ACTIVE", DesiredCount: int64p(1), RunningCount: int64p(1)},
			},
			KindALB: {
				{ID: "public-" + region, Name: "public", Kind: KindALB, Region: region, State: "active", DNSName: fmt.Sprintf("public.%s.elb.amazonaws.com", region)},
			},
		}
	}
	return c
}

func (c *Catalog) List(_ context.Context, region string, kind Kind) ([]Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byKind, ok := c.items[region]
	if !ok {
		return nil, ErrUnknownRegion
	}
	list := byKind[kind]
	out := make([]Resource, 0, len(list))
	for _, r := range list {
		out = append(out, cloneResource(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) Apply(_ context.Context, region string, kind Kind, req ActionRequest) (Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKind, ok := c.items[region]
	if !ok {
		return Resource{}, ErrUnknownRegion
	}
	for i := range byKind[kind] {
		r := &byKind[kind][i]
		if r.ID != req.ID {
			continue
		}
		switch req.Action {
		case ActionStart:
			r.State = "running"
		case ActionStop:
			r.State = "stopped"
		case ActionScale:
			r.DesiredCount = int64p(*req.DesiredCount)
			r.RunningCount = int64p(*req.DesiredCount)
		case ActionRedeploy:
			r.State = "ACTIVE"
		default:
			return Resource{}, ErrUnsupportedAction
		}
		return cloneResource(*r), nil
	}
	return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, req.ID)
}

func cloneResource(r Resource) Resource {
	if r.DesiredCount != nil {
		r.DesiredCount = int64p(*r.DesiredCount)
	}
	if r.RunningCount != nil {
		r.RunningCount = int64p(*r.RunningCount)
	}
	return r
}
