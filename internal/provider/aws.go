package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	rgtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/cloudguardian/policyguard/internal/policy"
	"golang.org/x/time/rate"
)

// AWSProvider backs Provider with the AWS SDK v2. Resource Groups Tagging
// API drives ListByScope and tag actions (cheap, cross-service); EC2 is
// used for delete on ec2_instance-typed resources, following
// cmd/driftmgr-server/main.go's updateAWSResource. Delete of any other
// type returns an error; modify is logged and skipped for every type.
type AWSProvider struct {
	ec2    *ec2.Client
	tagAPI *resourcegroupstaggingapi.Client
	limit  *rate.Limiter
}

// AWSConfig names the launch parameters the daemon resolves from flags/env
// (spec.md §6).
type AWSConfig struct {
	Region    string
	AccountID string
}

// NewAWSProvider loads the default AWS credential chain and constructs the
// EC2 and Resource Groups Tagging clients.
func NewAWSProvider(ctx context.Context, cfg AWSConfig) (*AWSProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeProvider, "loading AWS config")
	}

	return &AWSProvider{
		ec2:    ec2.NewFromConfig(awsCfg),
		tagAPI: resourcegroupstaggingapi.NewFromConfig(awsCfg),
		// one call every 200ms, burst of 5 — keeps a 1-minute-cadence
		// policy from hammering the tagging/EC2 APIs across many ticks.
		limit: rate.NewLimiter(rate.Every(200_000_000), 5),
	}, nil
}

func (p *AWSProvider) ListByScope(ctx context.Context, scope string) ([]Resource, error) {
	if err := p.limit.Wait(ctx); err != nil {
		return nil, err
	}

	var out []Resource
	var token *string
	for {
		resp, err := p.tagAPI.GetResources(ctx, &resourcegroupstaggingapi.GetResourcesInput{
			PaginationToken: token,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeProvider, "listing AWS resources")
		}

		for _, m := range resp.ResourceTagMappingList {
			arn := aws.ToString(m.ResourceARN)
			out = append(out, Resource{
				ID:         arn,
				Type:       resourceTypeFromARN(arn),
				Attributes: map[string]interface{}{"tags": tagMapFrom(m.Tags)},
			})
		}

		if resp.PaginationToken == nil || *resp.PaginationToken == "" {
			break
		}
		token = resp.PaginationToken
	}
	return out, nil
}

func (p *AWSProvider) Apply(ctx context.Context, resource Resource, action policy.RemediationAction) error {
	if err := p.limit.Wait(ctx); err != nil {
		return err
	}

	switch action.Kind {
	case policy.ActionTag:
		tags := make(map[string]string, len(action.Parameters))
		for k, v := range action.Parameters {
			tags[k] = fmt.Sprintf("%v", v)
		}
		_, err := p.tagAPI.TagResources(ctx, &resourcegroupstaggingapi.TagResourcesInput{
			ResourceARNList: []string{resource.ID},
			Tags:            tags,
		})
		return apperrors.Wrap(err, apperrors.TypeProvider, "tagging AWS resource")

	case policy.ActionDelete:
		if kind := resourceTypeFromARN(resource.ID); kind != "ec2_instance" {
			return apperrors.Newf(apperrors.TypeProvider, "delete is not supported for AWS resource type %q", kind)
		}
		instanceID := resource.ID[strings.LastIndex(resource.ID, "/")+1:]
		if _, err := p.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{instanceID},
		}); err != nil {
			return apperrors.Wrap(err, apperrors.TypeProvider, "deleting AWS resource")
		}
		return nil

	case policy.ActionModify:
		logging.WithComponent("provider.aws").Warn().
			Str("resource", resource.ID).
			Msg("modify action has no generic EC2 equivalent; skipping")
		return nil

	default:
		return apperrors.Newf(apperrors.TypeProvider, "unsupported action kind %q", action.Kind)
	}
}

func (p *AWSProvider) ResourceField(resource Resource, path string) (interface{}, bool) {
	return resource.Lookup(path)
}

func tagMapFrom(tags []rgtypes.Tag) map[string]interface{} {
	m := make(map[string]interface{}, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

// resourceTypeFromARN extracts a coarse type string ("ec2_instance", "s3")
// from an ARN's service/resource segments, the taxonomy policy.resource_type
// matches against.
func resourceTypeFromARN(arn string) string {
	var service, resource string
	if n, _ := fmt.Sscanf(arn, "arn:aws:%s", &service); n == 0 {
		return "unknown"
	}
	// arn:aws:<service>:<region>:<account>:<resource...>
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return service
	}
	resource = parts[5]
	if i := strings.IndexAny(resource, "/:"); i >= 0 {
		resource = resource[:i]
	} else if len(parts) == 6 {
		// a bare name (S3 bucket, SQS queue) carries no type segment
		return parts[2]
	}
	if resource == "instance" {
		return "ec2_instance"
	}
	return resource
}
