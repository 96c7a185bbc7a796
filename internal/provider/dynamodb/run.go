package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/feedrun/internal/lifecycle"
	"github.com/dwsmith1983/feedrun/internal/provider"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// maxCASRetries bounds UpdateRun retries on version races.
const maxCASRetries = 5

// runItem is the stored shape of a run. Version and TTL are lifted to top
// level so condition expressions and DynamoDB TTL can see them.
type runItem struct {
	PK      string    `dynamodbav:"PK"`
	SK      string    `dynamodbav:"SK"`
	GSI1PK  string    `dynamodbav:"GSI1PK"`
	GSI1SK  string    `dynamodbav:"GSI1SK"`
	Version int       `dynamodbav:"version"`
	TTL     int64     `dynamodbav:"ttl,omitempty"`
	Run     types.Run `dynamodbav:"run"`
}

// activeItem is the single-flight pointer.
type activeItem struct {
	PK    string `dynamodbav:"PK"`
	SK    string `dynamodbav:"SK"`
	RunID string `dynamodbav:"runId"`
}

func (p *DynamoDBProvider) marshalRun(run types.Run) (map[string]ddbtypes.AttributeValue, error) {
	item := runItem{
		PK:      runPK(run.RunID),
		SK:      runSK(run.RunID),
		GSI1PK:  gsi1RunsPK,
		GSI1SK:  runListSK(run.StartedAt, run.RunID),
		Version: run.Version,
		Run:     run,
	}
	if lifecycle.IsTerminal(run.Status) {
		item.TTL = ttlEpoch(p.retentionTTL)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshaling run %s: %w", run.RunID, err)
	}
	return av, nil
}

func unmarshalRun(av map[string]ddbtypes.AttributeValue) (*types.Run, int64, error) {
	var item runItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling run: %w", err)
	}
	run := item.Run
	if run.Errors == nil {
		run.Errors = []types.RunError{}
	}
	return &run, item.TTL, nil
}

func activeKey() map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: activePK},
		"SK": &ddbtypes.AttributeValueMemberS{Value: activeSK},
	}
}

// CreateRun writes the run and the active pointer in one transaction. Both
// puts are conditional on the item not existing.
func (p *DynamoDBProvider) CreateRun(ctx context.Context, run types.Run) error {
	err := p.createRun(ctx, run)
	if !errors.Is(err, provider.ErrActiveRun) {
		return err
	}
	// The pointer may be left over from a terminal write whose cleanup
	// failed. QueryActive removes such a pointer; retry once if it did.
	active, qerr := p.QueryActive(ctx)
	if qerr != nil || active != nil {
		return err
	}
	return p.createRun(ctx, run)
}

func (p *DynamoDBProvider) createRun(ctx context.Context, run types.Run) error {
	item, err := p.marshalRun(run)
	if err != nil {
		return err
	}

	tx := []ddbtypes.TransactWriteItem{{
		Put: &ddbtypes.Put{
			TableName:           &p.tableName,
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	if lifecycle.IsActive(run.Status) {
		ptr, err := attributevalue.MarshalMap(activeItem{PK: activePK, SK: activeSK, RunID: run.RunID})
		if err != nil {
			return fmt.Errorf("marshaling active pointer: %w", err)
		}
		tx = append(tx, ddbtypes.TransactWriteItem{
			Put: &ddbtypes.Put{
				TableName:           &p.tableName,
				Item:                ptr,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}

	_, err = p.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx})
	if err == nil {
		return nil
	}
	if failed, ok := cancelledConditions(err); ok {
		if len(failed) > 1 && failed[1] {
			return provider.ErrActiveRun
		}
		if len(failed) > 0 && failed[0] {
			return fmt.Errorf("%w: %s", provider.ErrRunExists, run.RunID)
		}
	}
	return fmt.Errorf("creating run %s: %w", run.RunID, err)
}

// UpdateRun applies patch and writes the run conditioned on the version it
// read. Terminal writes then release the active pointer.
func (p *DynamoDBProvider) UpdateRun(ctx context.Context, runID string, patch types.RunPatch) (*types.Run, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		run, err := p.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		prev := run.Version
		if err := lifecycle.Apply(run, patch); err != nil {
			return nil, err
		}

		item, err := p.marshalRun(*run)
		if err != nil {
			return nil, err
		}
		_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           &p.tableName,
			Item:                item,
			ConditionExpression: aws.String("#version = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":expected": &ddbtypes.AttributeValueMemberN{Value: strconv.Itoa(prev)},
			},
		})
		if err == nil {
			if lifecycle.IsTerminal(run.Status) {
				p.releaseActive(ctx, runID)
			}
			return run, nil
		}
		if !isConditionalCheckFailed(err) {
			return nil, fmt.Errorf("updating run %s: %w", runID, err)
		}
		if patch.ExpectVersion != 0 {
			return nil, fmt.Errorf("%w: run %s changed during update", lifecycle.ErrVersionMismatch, runID)
		}
	}
	return nil, fmt.Errorf("%w: run %s: retries exhausted", lifecycle.ErrVersionMismatch, runID)
}

// releaseActive deletes the active pointer if it still names runID. Failure
// is logged; QueryActive heals a dangling pointer.
func (p *DynamoDBProvider) releaseActive(ctx context.Context, runID string) {
	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           &p.tableName,
		Key:                 activeKey(),
		ConditionExpression: aws.String("runId = :id"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":id": &ddbtypes.AttributeValueMemberS{Value: runID},
		},
	})
	if err != nil && !isConditionalCheckFailed(err) {
		p.logger.Warn("failed to release active pointer", "run_id", runID, "error", err)
	}
}

// GetRun retrieves a run with a strongly consistent read.
func (p *DynamoDBProvider) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: runSK(runID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", runID, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	}
	run, ttl, err := unmarshalRun(out.Item)
	if err != nil {
		return nil, err
	}
	if isExpired(ttl) {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, runID)
	}
	return run, nil
}

// QueryActive follows the active pointer, removing it when it names a run
// that is missing or already terminal.
func (p *DynamoDBProvider) QueryActive(ctx context.Context) (*types.Run, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key:            activeKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("reading active pointer: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var ptr activeItem
	if err := attributevalue.UnmarshalMap(out.Item, &ptr); err != nil {
		return nil, fmt.Errorf("unmarshaling active pointer: %w", err)
	}

	run, err := p.GetRun(ctx, ptr.RunID)
	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		return nil, err
	}
	if run == nil || lifecycle.IsTerminal(run.Status) {
		p.logger.Info("clearing dangling active pointer", "run_id", ptr.RunID)
		p.releaseActive(ctx, ptr.RunID)
		return nil, nil
	}
	return run, nil
}

// ListRuns queries GSI1 newest first.
func (p *DynamoDBProvider) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	input := &dynamodb.QueryInput{
		TableName:              &p.tableName,
		IndexName:              aws.String(gsi1Name),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: gsi1RunsPK},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	runs := []types.Run{}
	for {
		out, err := p.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		for _, item := range out.Items {
			run, ttl, err := unmarshalRun(item)
			if err != nil {
				p.logger.Warn("skipping corrupt run item", "error", err)
				continue
			}
			if isExpired(ttl) {
				continue
			}
			runs = append(runs, *run)
		}
		if limit > 0 && len(runs) >= limit {
			return runs[:limit], nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return runs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
