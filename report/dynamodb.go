package report

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// KeyPrefix starts the partition key of every report row, which keeps them
// apart from corpus rows in a shared table.
const KeyPrefix = "report#"

// DynamoDBClient is the subset of the DynamoDB API the store uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// item is the DynamoDB shape of a report. It shares the table layout of the
// corpus records (pk/sk/object), so reports can live next to the data.
type item struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	Object Report `dynamodbav:"object"`
}

// DynamoDBStore keeps reports in a DynamoDB table keyed by
// pk = "report#<id>" and sk = <index name>.
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

func (s *DynamoDBStore) Save(ctx context.Context, r Report) error {
	if r.ID == "" {
		return errors.New("report: missing id")
	}

	av, err := attributevalue.MarshalMap(item{PK: KeyPrefix + r.ID, SK: r.Index, Object: r})
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return errors.Wrapf(err, "put report %s", r.ID)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, id string) (Report, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: KeyPrefix + id},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return Report{}, errors.Wrapf(err, "query report %s", id)
	}
	if len(out.Items) == 0 {
		return Report{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return Report{}, errors.Wrap(err, "unmarshal report")
	}
	return it.Object, nil
}

// List scans the table for report items. The table is shared with corpus
// records, so the scan filters on the pk prefix and pages until done.
func (s *DynamoDBStore) List(ctx context.Context, limit int) ([]Report, error) {
	var (
		reports []Report
		start   map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("begins_with(pk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: KeyPrefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "scan reports")
		}

		for _, av := range out.Items {
			var it item
			if err := attributevalue.UnmarshalMap(av, &it); err != nil {
				return nil, errors.Wrap(err, "unmarshal report")
			}
			if !strings.HasPrefix(it.PK, KeyPrefix) {
				continue
			}
			reports = append(reports, it.Object)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	sortNewestFirst(reports)
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
