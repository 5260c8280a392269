package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/policy"
	"golang.org/x/time/rate"
)

// AzureProvider backs Provider with azidentity + armresources, following
// internal/cloud/azure/discovery.go's client construction and
// cmd/driftmgr-server/main.go's updateAzureResource apply path.
type AzureProvider struct {
	client         *armresources.Client
	subscriptionID string
	limit          *rate.Limiter
}

// AzureConfig names the launch parameters the daemon resolves from
// flags/env (spec.md §6).
type AzureConfig struct {
	SubscriptionID  string
	ManagementGroup string
}

// NewAzureProvider authenticates with the default Azure credential chain
// and constructs the generic resources client.
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeProvider, "creating Azure credential")
	}

	client, err := armresources.NewClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeProvider, "creating Azure resources client")
	}

	return &AzureProvider{
		client:         client,
		subscriptionID: cfg.SubscriptionID,
		limit:          rate.NewLimiter(rate.Every(200_000_000), 5),
	}, nil
}

func (p *AzureProvider) ListByScope(ctx context.Context, scope string) ([]Resource, error) {
	if err := p.limit.Wait(ctx); err != nil {
		return nil, err
	}

	var filter *string
	if strings.HasPrefix(scope, "sub:") || scope == "all" {
		filter = nil
	}

	var out []Resource
	pager := p.client.NewListPager(&armresources.ClientListOptions{Filter: filter})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeProvider, "listing Azure resources")
		}
		for _, gr := range page.Value {
			if gr == nil || gr.ID == nil {
				continue
			}
			attrs := map[string]interface{}{}
			if gr.Tags != nil {
				tags := make(map[string]interface{}, len(gr.Tags))
				for k, v := range gr.Tags {
					if v != nil {
						tags[k] = *v
					}
				}
				attrs["tags"] = tags
			}
			if gr.Properties != nil {
				attrs["properties"] = gr.Properties
			}
			out = append(out, Resource{
				ID:         *gr.ID,
				Type:       typeFromResourceID(*gr.ID),
				Attributes: attrs,
			})
		}
	}
	return out, nil
}

func (p *AzureProvider) Apply(ctx context.Context, resource Resource, action policy.RemediationAction) error {
	if err := p.limit.Wait(ctx); err != nil {
		return err
	}

	switch action.Kind {
	case policy.ActionDelete:
		poller, err := p.client.BeginDeleteByID(ctx, resource.ID, "2021-04-01", nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeProvider, "deleting Azure resource")
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return apperrors.Wrap(err, apperrors.TypeProvider, "waiting for Azure delete")

	case policy.ActionTag, policy.ActionModify:
		tags := map[string]*string{}
		for k, v := range action.Parameters {
			s := fmt.Sprintf("%v", v)
			tags[k] = &s
		}
		resourceBody := armresources.GenericResource{Tags: tags}
		poller, err := p.client.BeginUpdateByID(ctx, resource.ID, "2021-04-01", resourceBody, nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeProvider, "updating Azure resource")
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return apperrors.Wrap(err, apperrors.TypeProvider, "waiting for Azure update")

	default:
		return apperrors.Newf(apperrors.TypeProvider, "unsupported action kind %q", action.Kind)
	}
}

func (p *AzureProvider) ResourceField(resource Resource, path string) (interface{}, bool) {
	return resource.Lookup(path)
}

// typeFromResourceID extracts "Microsoft.Provider/resourceKind" style
// segments from an ARM resource ID into the taxonomy policy.resource_type
// matches against.
func typeFromResourceID(id string) string {
	parts := strings.Split(id, "/providers/")
	if len(parts) < 2 {
		return "unknown"
	}
	segs := strings.Split(parts[1], "/")
	if len(segs) < 2 {
		return segs[0]
	}
	return segs[0] + "/" + segs[1]
}
