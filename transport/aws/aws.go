// Package aws provides an AWS SNS/SQS transport. Every node path becomes an
// SNS topic fanned out to one SQS queue of the same name. Replicas of a node
// share the queue and compete for its envelopes.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/messageless/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"

	// maxQueueNameLength is the SQS limit; SNS allows longer names.
	maxQueueNameLength = 80
)

var (
	errAccountIDRequired = errors.New("aws: account id is required outside LocalStack")
	errRegionRequired    = errors.New("aws: region is required")
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// TopicName maps a node path to the name used for both its SNS topic and its
// SQS queue. Characters outside [A-Za-z0-9_-] become underscores, so
// "orders.poison" and "orders_poison" share a queue.
func TopicName(path string) (string, error) {
	if path == "" {
		return "", errors.New("aws: path is empty")
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, path)
	if len(name) > maxQueueNameLength {
		return "", fmt.Errorf("aws: path %q is longer than %d characters", path, maxQueueNameLength)
	}
	return name, nil
}

// PathTopicResolver addresses the SNS topic of a node path.
type PathTopicResolver struct {
	AccountID string
	Region    string
}

// ResolveTopic implements sns.TopicResolver.
func (r PathTopicResolver) ResolveTopic(_ context.Context, path string) (sns.TopicArn, error) {
	name, err := TopicName(path)
	if err != nil {
		return "", err
	}
	return sns.GenerateTopicArn(r.Region, r.AccountID, name)
}

// queueForTopic names the SQS queue after the topic it is subscribed to.
func queueForTopic(_ context.Context, topic sns.TopicArn) (string, error) {
	name, err := sns.ExtractTopicNameFromTopicArn(topic)
	if err != nil {
		return "", err
	}
	return string(name), nil
}

// Build creates the SNS publisher and the SQS-backed subscriber of a node.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	localTopic, err := TopicName(cfg.GetLocalPath())
	if err != nil {
		return transport.Transport{}, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": cfg.GetAWSRegion()})
		return transport.Transport{}, err
	}

	resolver, err := topicResolver(cfg, awsCfg.Region)
	if err != nil {
		return transport.Transport{}, err
	}
	snsOpts, sqsOpts, err := endpointOptions(cfg.GetAWSEndpoint())
	if err != nil {
		return transport.Transport{}, err
	}

	logger.Info("Building AWS transport", watermill.LogFields{
		"local_topic": localTopic,
		"account_id":  resolver.AccountID,
		"region":      resolver.Region,
		"localstack":  cfg.GetAWSEndpoint() != "",
	})

	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(sns.SubscriberConfig{
		AWSConfig:            awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        resolver,
		GenerateSqsQueueName: queueForTopic,
	}, sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    sqsOpts,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func loadAWSConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(key, secret)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	// Some loaders ignore WithRegion.
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

// topicResolver picks the account and region the topic ARNs are built from.
// LocalStack accepts any account, so an empty or malformed id falls back to
// its default there.
func topicResolver(cfg transport.Config, loadedRegion string) (PathTopicResolver, error) {
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	localstack := cfg.GetAWSEndpoint() != ""

	if localstack && !isAccountID(accountID) {
		accountID = localstackAccountID
	}
	if accountID == "" {
		return PathTopicResolver{}, errAccountIDRequired
	}
	if loadedRegion == "" {
		return PathTopicResolver{}, errRegionRequired
	}
	return PathTopicResolver{AccountID: accountID, Region: loadedRegion}, nil
}

func isAccountID(id string) bool {
	if len(id) != len(localstackAccountID) {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// endpointOptions points both the SNS and the SQS client at a custom
// endpoint such as LocalStack.
func endpointOptions(endpoint string) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if endpoint == "" {
		return nil, nil, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("aws: parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, nil, fmt.Errorf("aws: endpoint %q needs a scheme and host", endpoint)
	}

	resolved := smithyendpoints.Endpoint{URI: *parsed}
	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: resolved}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: resolved}),
	}
	return snsOpts, sqsOpts, nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
