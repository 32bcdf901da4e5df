// Package awsprovider implements resources.Provider with aws-sdk-go.
package awsprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"

	"opsconsole.dev/internal/resources"
)

// describeServicesBatch is the ECS DescribeServices limit.
const describeServicesBatch = 10

// Clients are the SDK clients for one region.
type Clients struct {
	EC2   ec2iface.EC2API
	ECS   ecsiface.ECSAPI
	ELBV2 elbv2iface.ELBV2API
}

// Provider dispatches to per-region SDK clients.
type Provider struct {
	clients map[string]Clients
}

var _ resources.Provider = (*Provider)(nil)

// New builds clients for each region from the default credential chain.
func New(regions []string) (*Provider, error) {
	clients := make(map[string]Clients, len(regions))
	for _, region := range regions {
		sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("awsprovider: session for %s: %w", region, err)
		}
		clients[region] = Clients{
			EC2:   ec2.New(sess),
			ECS:   ecs.New(sess),
			ELBV2: elbv2.New(sess),
		}
	}
	return &Provider{clients: clients}, nil
}

// NewWithClients wires prebuilt clients keyed by region.
func NewWithClients(clients map[string]Clients) *Provider {
	return &Provider{clients: clients}
}

func (p *Provider) region(region string) (Clients, error) {
	c, ok := p.clients[region]
	if !ok {
		return Clients{}, resources.ErrUnknownRegion
	}
	return c, nil
}

func (p *Provider) List(ctx context.Context, region string, kind resources.Kind) ([]resources.Resource, error) {
	c, err := p.region(region)
	if err != nil {
		return nil, err
	}
	switch kind {
	case resources.KindEC2:
		return listInstances(ctx, c.EC2, region)
	case resources.KindECS:
		return listServices(ctx, c.ECS, region)
	case resources.KindALB:
		return listLoadBalancers(ctx, c.ELBV2, region)
	default:
		return nil, resources.ErrUnknownKind
	}
}

func (p *Provider) Apply(ctx context.Context, region string, kind resources.Kind, req resources.ActionRequest) (resources.Resource, error) {
	c, err := p.region(region)
	if err != nil {
		return resources.Resource{}, err
	}
	switch {
	case kind == resources.KindEC2 && req.Action == resources.ActionStart:
		out, err := c.EC2.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{InstanceIds: aws.StringSlice([]string{req.ID})})
		if err != nil {
			return resources.Resource{}, err
		}
		return instanceChange(region, req.ID, out.StartingInstances)
	case kind == resources.KindEC2 && req.Action == resources.ActionStop:
		out, err := c.EC2.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{InstanceIds: aws.StringSlice([]string{req.ID})})
		if err != nil {
			return resources.Resource{}, err
		}
		return instanceChange(region, req.ID, out.StoppingInstances)
	case kind == resources.KindECS && (req.Action == resources.ActionScale || req.Action == resources.ActionRedeploy):
		cluster, service, ok := strings.Cut(req.ID, "/")
		if !ok || cluster == "" || service == "" {
			return resources.Resource{}, fmt.Errorf("%w: ecs id must be cluster/service", resources.ErrInvalidRequest)
		}
		in := &ecs.UpdateServiceInput{Cluster: aws.String(cluster), Service: aws.String(service)}
		if req.Action == resources.ActionScale {
			in.DesiredCount = req.DesiredCount
		} else {
			in.ForceNewDeployment = aws.Bool(true)
		}
		out, err := c.ECS.UpdateServiceWithContext(ctx, in)
		if err != nil {
			return resources.Resource{}, err
		}
		return serviceResource(region, cluster, out.Service), nil
	default:
		return resources.Resource{}, resources.ErrUnsupportedAction
	}
}

func listInstances(ctx context.Context, api ec2iface.EC2API, region string) ([]resources.Resource, error) {
	var (
		out   []resources.Resource
		token *string
	)
	for {
		page, err := api.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{NextToken: token})
		if err != nil {
			return nil, err
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				r := resources.Resource{
					ID:     aws.StringValue(inst.InstanceId),
					Name:   tagValue(inst.Tags, "Name"),
					Kind:   resources.KindEC2,
					Region: region,
				}
				if inst.State != nil {
					r.State = aws.StringValue(inst.State.Name)
				}
				out = append(out, r)
			}
		}
		if aws.StringValue(page.NextToken) == "" {
			return out, nil
		}
		token = page.NextToken
	}
}

func listServices(ctx context.Context, api ecsiface.ECSAPI, region string) ([]resources.Resource, error) {
	var (
		out      []resources.Resource
		clusters []*string
		next     *string
	)
	for {
		page, err := api.ListClustersWithContext(ctx, &ecs.ListClustersInput{NextToken: next})
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, page.ClusterArns...)
		if aws.StringValue(page.NextToken) == "" {
			break
		}
		next = page.NextToken
	}
	for _, clusterArn := range clusters {
		cluster := arnName(aws.StringValue(clusterArn))
		var arns []*string
		var token *string
		for {
			page, err := api.ListServicesWithContext(ctx, &ecs.ListServicesInput{Cluster: clusterArn, NextToken: token})
			if err != nil {
				return nil, err
			}
			arns = append(arns, page.ServiceArns...)
			if aws.StringValue(page.NextToken) == "" {
				break
			}
			token = page.NextToken
		}
		for start := 0; start < len(arns); start += describeServicesBatch {
			end := min(start+describeServicesBatch, len(arns))
			desc, err := api.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{Cluster: clusterArn, Services: arns[start:end]})
			if err != nil {
				return nil, err
			}
			for _, svc := range desc.Services {
				out = append(out, serviceResource(region, cluster, svc))
			}
		}
	}
	return out, nil
}

func listLoadBalancers(ctx context.Context, api elbv2iface.ELBV2API, region string) ([]resources.Resource, error) {
	var (
		out    []resources.Resource
		marker *string
	)
	for {
		page, err := api.DescribeLoadBalancersWithContext(ctx, &elbv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, lb := range page.LoadBalancers {
			r := resources.Resource{
				ID:      aws.StringValue(lb.LoadBalancerArn),
				Name:    aws.StringValue(lb.LoadBalancerName),
				Kind:    resources.KindALB,
				Region:  region,
				DNSName: aws.StringValue(lb.DNSName),
			}
			if lb.State != nil {
				r.State = aws.StringValue(lb.State.Code)
			}
			out = append(out, r)
		}
		if aws.StringValue(page.NextMarker) == "" {
			return out, nil
		}
		marker = page.NextMarker
	}
}

func instanceChange(region, id string, changes []*ec2.InstanceStateChange) (resources.Resource, error) {
	for _, ch := range changes {
		if aws.StringValue(ch.InstanceId) != id {
			continue
		}
		r := resources.Resource{ID: id, Kind: resources.KindEC2, Region: region}
		if ch.CurrentState != nil {
			r.State = aws.StringValue(ch.CurrentState.Name)
		}
		return r, nil
	}
	return resources.Resource{}, fmt.Errorf("%w: %s", resources.ErrNotFound, id)
}

func serviceResource(region, cluster string, svc *ecs.Service) resources.Resource {
	name := aws.StringValue(svc.ServiceName)
	return resources.Resource{
		ID:           cluster + "/" + name,
		Name:         name,
		Kind:         resources.KindECS,
		Region:       region,
		State:        aws.StringValue(svc.Status),
		DesiredCount: svc.DesiredCount,
		RunningCount: svc.RunningCount,
	}
}

func tagValue(tags []*ec2.Tag, key string) string {
	for _, t := range tags {
		if aws.StringValue(t.Key) == key {
			return aws.StringValue(t.Value)
		}
	}
	return ""
}

// arnName returns the trailing path segment of an ARN.
func arnName(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}
