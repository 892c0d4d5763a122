package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"captain-agent/internal/domain"
)

const (
	skState     = "STATE"
	skPrefixMsg = "MSG#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
	// Fixed width so lexical sort key order matches time order.
	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a single DynamoDB table holding state and message items.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*Client)(nil)

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

type stateItem struct {
	PK        string                   `dynamodbav:"PK"`
	SK        string                   `dynamodbav:"SK"`
	State     domain.ConversationState `dynamodbav:"state"`
	UpdatedAt string                   `dynamodbav:"updatedAt"`
	TTL       int64                    `dynamodbav:"ttl"`
}

type messageItem struct {
	PK        string      `dynamodbav:"PK"`
	SK        string      `dynamodbav:"SK"`
	Role      domain.Role `dynamodbav:"role"`
	Content   string      `dynamodbav:"content"`
	CreatedAt time.Time   `dynamodbav:"createdAt"`
	TTL       int64       `dynamodbav:"ttl"`
}

// userPK returns the partition key for a conversation key.
func userPK(key string) string {
	return "USER#" + key
}

// msgSK orders messages by time, then by position within one turn.
func msgSK(ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%03d", skPrefixMsg, ts.UTC().Format(sortTimeLayout), seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// LoadState reads the STATE item with a consistent read.
func (c *Client) LoadState(ctx context.Context, key string) (domain.ConversationState, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(key)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: LoadState get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{}, false, nil
	}

	var item stateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: LoadState unmarshal: %w", err)
	}
	return normalizeState(item.State), true, nil
}

// SaveTurn replaces the state and appends msgs in one transaction.
func (c *Client) SaveTurn(ctx context.Context, key string, state domain.ConversationState, msgs ...domain.Message) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: SaveTurn: key is required")
	}
	now := c.now().UTC()
	ttl := c.ttlValue()

	st, err := attributevalue.MarshalMap(stateItem{
		PK:        userPK(key),
		SK:        skState,
		State:     state,
		UpdatedAt: now.Format(time.RFC3339),
		TTL:       ttl,
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn marshal state: %w", err)
	}
	items := []types.TransactWriteItem{{
		Put: &types.Put{TableName: aws.String(c.tableName), Item: st},
	}}

	for i, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		av, err := attributevalue.MarshalMap(messageItem{
			PK:        userPK(key),
			SK:        msgSK(created, i),
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: created.UTC(),
			TTL:       ttl,
		})
		if err != nil {
			return fmt.Errorf("repository: SaveTurn marshal message: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// ListMessages queries MSG# items newest first and returns them in
// chronological order.
func (c *Client) ListMessages(ctx context.Context, key string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(key)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, raw := range out.Items {
			var item messageItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			if item.Role == "" {
				return nil, fmt.Errorf("repository: ListMessages: item %s has no role", item.SK)
			}
			msgs = append(msgs, domain.Message{Role: item.Role, Content: item.Content, CreatedAt: item.CreatedAt})
		}
		if limit > 0 || len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}
