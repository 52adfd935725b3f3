package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"rotor/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.Notifier = (*SNSNotifier)(nil)
	_ domain.Notifier = (*NoopNotifier)(nil)
)

// SNSNotifier publishes messages to a phone number or a topic. A non-empty
// phone number takes precedence.
type SNSNotifier struct {
	client      *sns.Client
	topicARN    string
	phoneNumber string
	log         zerolog.Logger
}

// NewSNSNotifier builds a notifier using the default AWS credential chain.
func NewSNSNotifier(ctx context.Context, topicARN, phoneNumber string, logger zerolog.Logger) (*SNSNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSNotifier{
		client:      sns.NewFromConfig(cfg),
		topicARN:    topicARN,
		phoneNumber: phoneNumber,
		log:         logger.With().Str("component", "sns").Logger(),
	}, nil
}

// Send publishes one message.
func (n *SNSNotifier) Send(ctx context.Context, message string) error {
	input := &sns.PublishInput{Message: aws.String(message)}
	if n.phoneNumber != "" {
		input.PhoneNumber = aws.String(n.phoneNumber)
	} else {
		input.TopicArn = aws.String(n.topicARN)
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	n.log.Debug().Int("length", len(message)).Msg("notification published")
	return nil
}

// NoopNotifier logs messages instead of delivering them. Used by backtests
// and by live runs with notifications unconfigured.
type NoopNotifier struct {
	log zerolog.Logger
}

// NewNoopNotifier builds the logging notifier.
func NewNoopNotifier(logger zerolog.Logger) *NoopNotifier {
	return &NoopNotifier{log: logger.With().Str("component", "notify").Logger()}
}

// Send logs the message and succeeds.
func (n *NoopNotifier) Send(_ context.Context, message string) error {
	n.log.Info().Msg(message)
	return nil
}
