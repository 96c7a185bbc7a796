package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/feedrun/pkg/types"
)

const (
	eventSource     = "feedrun"
	eventDetailType = "feedrun.alert"
)

// EventBridgeAPI is the subset of the EventBridge client used by
// EventBridgeSink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink publishes alerts as events on a bus.
type EventBridgeSink struct {
	client EventBridgeAPI
	bus    string
	region string
}

// EventBridgeOption configures an EventBridgeSink.
type EventBridgeOption func(*EventBridgeSink)

// WithEventBridgeClient sets a custom client (useful for testing).
func WithEventBridgeClient(c EventBridgeAPI) EventBridgeOption {
	return func(s *EventBridgeSink) { s.client = c }
}

// WithEventBridgeRegion overrides the region from the default AWS config.
func WithEventBridgeRegion(region string) EventBridgeOption {
	return func(s *EventBridgeSink) { s.region = region }
}

// NewEventBridgeSink creates a sink for bus. An empty bus means the
// account's default bus.
func NewEventBridgeSink(bus string, opts ...EventBridgeOption) (*EventBridgeSink, error) {
	if bus == "" {
		bus = "default"
	}
	s := &EventBridgeSink{bus: bus}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if s.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(s.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = eventbridge.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send puts the alert on the bus with detail-type feedrun.alert.
func (s *EventBridgeSink) Send(ctx context.Context, alert types.Alert) error {
	detail, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(s.bus),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(eventDetailType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(alert.Timestamp),
		}},
	})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			msg = *out.Entries[0].ErrorMessage
		}
		return fmt.Errorf("event rejected: %s", msg)
	}
	return nil
}
