package ddb

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/recallx"
	"github.com/letmevibethatforyou/recallx/corpus"
)

// DynamoDBEvent represents a DynamoDB stream event
type DynamoDBEvent struct {
	Records []DynamoDBEventRecord `json:"Records"`
}

// DynamoDBEventRecord represents a single DynamoDB stream record
type DynamoDBEventRecord struct {
	AWSRegion      string               `json:"awsRegion"`
	Change         DynamoDBStreamRecord `json:"dynamodb"`
	EventID        string               `json:"eventID"`
	EventName      string               `json:"eventName"`
	EventSource    string               `json:"eventSource"`
	EventVersion   string               `json:"eventVersion"`
	EventSourceArn string               `json:"eventSourceARN"`
}

// DynamoDBStreamRecord represents the DynamoDB stream data
type DynamoDBStreamRecord struct {
	ApproximateCreationDateTime int64                           `json:"ApproximateCreationDateTime,omitempty"`
	Keys                        map[string]types.AttributeValue `json:"Keys,omitempty"`
	NewImage                    map[string]types.AttributeValue `json:"NewImage,omitempty"`
	OldImage                    map[string]types.AttributeValue `json:"OldImage,omitempty"`
	SequenceNumber              string                          `json:"SequenceNumber"`
	SizeBytes                   int64                           `json:"SizeBytes"`
	StreamViewType              string                          `json:"StreamViewType"`
}

// DynamoDBOperationType represents the type of DynamoDB operation
type DynamoDBOperationType string

const (
	DynamoDBOperationTypeInsert DynamoDBOperationType = "INSERT"
	DynamoDBOperationTypeModify DynamoDBOperationType = "MODIFY"
	DynamoDBOperationTypeRemove DynamoDBOperationType = "REMOVE"
)

// Item is the object attribute of a corpus row.
type Item struct {
	Embedding   []float32          `dynamodbav:"embedding"`
	Restricts   []recallx.Restrict `dynamodbav:"restricts,omitempty"`
	CrowdingTag string             `dynamodbav:"crowding_tag,omitempty"`
}

// Record is one corpus row: pk holds the item ID and sk the index it
// belongs to.
type Record struct {
	ID        string `dynamodbav:"pk"`
	IndexName string `dynamodbav:"sk"`
	Object    *Item  `dynamodbav:"object,omitempty"`
}

// NewRecord builds the row for rec in the given index.
func NewRecord(indexName string, rec corpus.Record) Record {
	return Record{
		ID:        rec.ID,
		IndexName: indexName,
		Object: &Item{
			Embedding:   rec.Embedding,
			Restricts:   rec.Restricts,
			CrowdingTag: rec.CrowdingTag,
		},
	}
}

// MarshalRecord converts a Record into a DynamoDB item.
func MarshalRecord(r Record) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(r)
}

// UnmarshalRecord converts a DynamoDB NewImage (or Keys) into a Record struct
func UnmarshalRecord(image map[string]types.AttributeValue) (Record, error) {
	var record Record
	err := attributevalue.UnmarshalMap(image, &record)
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// CorpusRecord validates r and converts it into a corpus record.
func (r Record) CorpusRecord() (corpus.Record, error) {
	if r.ID == "" {
		return corpus.Record{}, errors.Wrap(corpus.ErrInvalidRecord, "missing id (pk)")
	}
	if r.IndexName == "" {
		return corpus.Record{}, errors.Wrapf(corpus.ErrInvalidRecord, "record %q: missing index name (sk)", r.ID)
	}
	if r.Object == nil || len(r.Object.Embedding) == 0 {
		return corpus.Record{}, errors.Wrapf(corpus.ErrInvalidRecord, "record %q: missing embedding", r.ID)
	}
	for _, restrict := range r.Object.Restricts {
		if restrict.Namespace == "" {
			return corpus.Record{}, errors.Wrapf(corpus.ErrInvalidRecord, "record %q: restrict without namespace", r.ID)
		}
	}

	return corpus.Record{
		ID:          r.ID,
		Embedding:   r.Object.Embedding,
		Restricts:   r.Object.Restricts,
		CrowdingTag: r.Object.CrowdingTag,
	}, nil
}
