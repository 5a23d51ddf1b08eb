package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/stackctl/stackctl/internal/ports"
)

// snsClient is the narrow SNS surface used to announce a stack operation
// starting, same per-service-interface pattern as the other capabilities.
type snsClient interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (a *Adapter) snsFor(ctx context.Context, region string) (snsClient, error) {
	a.capsOnce()
	a.caps.mu.Lock()
	defer a.caps.mu.Unlock()
	if a.caps.sns == nil {
		a.caps.sns = make(map[string]snsClient)
	}
	if c, ok := a.caps.sns[region]; ok {
		return c, nil
	}
	cfg, err := a.factory.configs.Get(ctx, region, "")
	if err != nil {
		return nil, err
	}
	c := sns.NewFromConfig(cfg)
	a.caps.sns[region] = c
	return c, nil
}

// publishStart announces a create/update to every topic ARN listed in
// params.Notifications (spec §4.5's `notifications` parameter). Failures
// are logged, not propagated: a notification outage must never block a
// stack operation that has already been submitted to CloudFormation.
func (a *Adapter) publishStart(ctx context.Context, params ports.CreateParams, op string) {
	if len(params.Notifications) == 0 {
		return
	}
	client, err := a.snsFor(ctx, params.Region)
	if err != nil {
		a.logNotifyFailure(ctx, params.FQN, err)
		return
	}
	msg := fmt.Sprintf("stackctl: %s started for stack %s", op, params.FQN)
	for _, topicARN := range params.Notifications {
		if _, err := client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(topicARN),
			Message:  aws.String(msg),
			Subject:  aws.String(fmt.Sprintf("stackctl %s: %s", op, params.FQN)),
		}); err != nil {
			a.logNotifyFailure(ctx, params.FQN, err)
		}
	}
}

func (a *Adapter) logNotifyFailure(ctx context.Context, fqn string, err error) {
	if a.Logger == nil {
		return
	}
	a.Logger.Warn(ctx, "failed to publish sns notification", "stack", fqn, "error", err.Error())
}
