// Package ec2 implements fleet.Provider on Amazon EC2.
package ec2

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetgate/internal/fleet"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// API is the part of the EC2 client the provider uses.
type API interface {
	awsec2.DescribeInstancesAPIClient
	StartInstances(ctx context.Context, params *awsec2.StartInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *awsec2.StopInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error)
}

// Provider talks to EC2 in a single region.
type Provider struct {
	client API
}

// New loads the default AWS credential chain (env, shared config, instance or
// Lambda role). An empty region falls back to AWS_REGION / the shared config.
func New(ctx context.Context, region string) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(awsec2.NewFromConfig(cfg)), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API) *Provider {
	return &Provider{client: client}
}

// ListInstances pages through DescribeInstances without filters.
func (p *Provider) ListInstances(ctx context.Context) ([]fleet.Instance, error) {
	var out []fleet.Instance

	pager := awsec2.NewDescribeInstancesPaginator(p.client, &awsec2.DescribeInstancesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeInstances", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				out = append(out, toInstance(inst))
			}
		}
	}
	return out, nil
}

// StartInstance issues StartInstances for one id.
func (p *Provider) StartInstance(ctx context.Context, id string) error {
	_, err := p.client.StartInstances(ctx, &awsec2.StartInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return classify("StartInstances", err)
	}
	return nil
}

// StopInstance issues StopInstances for one id.
func (p *Provider) StopInstance(ctx context.Context, id string) error {
	_, err := p.client.StopInstances(ctx, &awsec2.StopInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return classify("StopInstances", err)
	}
	return nil
}

// Ping checks credentials and reachability with a one-page describe.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.client.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{MaxResults: aws.Int32(5)})
	if err != nil {
		return classify("DescribeInstances", err)
	}
	return nil
}

func toInstance(inst types.Instance) fleet.Instance {
	out := fleet.Instance{
		ID:        aws.ToString(inst.InstanceId),
		IPAddress: aws.ToString(inst.PublicIpAddress),
	}
	if inst.State != nil {
		out.State = fleet.State(inst.State.Name)
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == "Name" {
			out.Name = aws.ToString(tag.Value)
			break
		}
	}
	return out
}

func classify(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fleet.NewError(fleet.KindUnavailable, op, "", err)
	}

	code := apiErr.ErrorCode()
	kind := fleet.KindUnavailable
	switch {
	case code == "InvalidInstanceID.NotFound", code == "InvalidInstanceID.Malformed":
		kind = fleet.KindNotFound
	case code == "IncorrectInstanceState", code == "IncorrectState", code == "UnsupportedOperation":
		kind = fleet.KindInvalidState
	case code == "UnauthorizedOperation", code == "AuthFailure", code == "OptInRequired",
		strings.HasPrefix(code, "AccessDenied"):
		kind = fleet.KindPermission
	}
	return fleet.NewError(kind, op, code, err)
}
