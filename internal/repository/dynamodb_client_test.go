package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"captain-agent/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	queryInputs  []*dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC) }
	return c
}

func makeMessageItem(t *testing.T, sk string, role domain.Role, content string) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(messageItem{PK: "USER#abc", SK: sk, Role: role, Content: content})
	require.NoError(t, err)
	return item
}

func TestLoadState_HappyPath(t *testing.T) {
	origin := "Mumbai"
	item, err := attributevalue.MarshalMap(stateItem{
		PK: "USER#abc",
		SK: skState,
		State: domain.ConversationState{
			Step:      domain.StepConversation,
			Documents: []string{"bill_of_lading"},
			Booking:   &domain.BookingData{Origin: &origin},
		},
	})
	require.NoError(t, err)

	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	st, found, err := c.LoadState(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.StepConversation, st.Step)
	require.Equal(t, []string{"bill_of_lading"}, st.Documents)
	require.Equal(t, "Mumbai", *st.Booking.Origin)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "USER#abc", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestLoadState_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, found, err := c.LoadState(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLoadState_EmptyStepDefaultsToStart(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "USER#abc"},
		"SK":    &types.AttributeValueMemberS{Value: skState},
		"state": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
	}
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	st, found, err := c.LoadState(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.StepStart, st.Step)
}

func TestLoadState_GetItemError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.LoadState(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LoadState")
}

func TestLoadState_Malformed(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "USER#abc"},
		"state": &types.AttributeValueMemberN{Value: "7"},
	}
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, _, err := c.LoadState(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestSaveTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveTurn(context.Background(), "abc",
		domain.ConversationState{Step: domain.StepOrderLocation},
		domain.Message{Role: domain.RoleUser, Content: "hi"},
		domain.Message{Role: domain.RoleAgent, Content: "Hello!"},
	)
	require.NoError(t, err)
	require.Len(t, db.lastTxInput.TransactItems, 3)

	state := db.lastTxInput.TransactItems[0].Put
	require.Nil(t, state.ConditionExpression)
	require.Equal(t, skState, state.Item["SK"].(*types.AttributeValueMemberS).Value)

	user := db.lastTxInput.TransactItems[1].Put
	agent := db.lastTxInput.TransactItems[2].Put
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *user.ConditionExpression)
	userSK := user.Item["SK"].(*types.AttributeValueMemberS).Value
	agentSK := agent.Item["SK"].(*types.AttributeValueMemberS).Value
	require.Equal(t, "MSG#2026-02-27T12:00:00.000000000Z#000", userSK)
	require.Less(t, userSK, agentSK)
	require.Equal(t, "agent", agent.Item["role"].(*types.AttributeValueMemberS).Value)
}

func TestSaveTurn_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("transaction canceled")})
	err := c.SaveTurn(context.Background(), "abc", domain.NewConversationState())
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestSaveTurn_EmptyKey(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), " ", domain.NewConversationState())
	require.Error(t, err)
	require.Contains(t, err.Error(), "key is required")
}

func TestListMessages_ReordersDescendingResultsToChronological(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeMessageItem(t, "MSG#2026-02-27T12:00:00.000000000Z#001", domain.RoleAgent, "newer"),
			makeMessageItem(t, "MSG#2026-02-27T12:00:00.000000000Z#000", domain.RoleUser, "older"),
		},
	}}}
	c := mustNewClient(t, db)

	msgs, err := c.ListMessages(context.Background(), "abc", 6)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "older", msgs[0].Content)
	require.Equal(t, domain.RoleAgent, msgs[1].Role)

	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *in.KeyConditionExpression)
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(6), *in.Limit)
}

func TestListMessages_PaginatesWhenUnlimited(t *testing.T) {
	lastKey := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "USER#abc"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{makeMessageItem(t, "MSG#2", domain.RoleAgent, "b")}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{makeMessageItem(t, "MSG#1", domain.RoleUser, "a")}},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.ListMessages(context.Background(), "abc", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, []string{msgs[0].Content, msgs[1].Content})
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].Limit)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestListMessages_Empty(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	msgs, err := c.ListMessages(context.Background(), "abc", 6)
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
}

func TestListMessages_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.ListMessages(context.Background(), "abc", 6)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListMessages")
}

func TestListMessages_MissingRole(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "USER#abc"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#ts"},
	}
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err := c.ListMessages(context.Background(), "abc", 6)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no role")
}

func TestUserPK(t *testing.T) {
	require.Equal(t, "USER#demo:s1", userPK("demo:s1"))
}

func TestMsgSK_SortsByTimeThenSequence(t *testing.T) {
	early := time.Date(2026, 2, 25, 10, 0, 0, 500, time.UTC)
	late := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	require.Less(t, msgSK(early, 9), msgSK(late, 0))
	require.Less(t, msgSK(early, 0), msgSK(early, 1))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
