package ddb

import (
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// UnmarshalJSON decodes the DynamoDB JSON images of a stream record into
// SDK attribute values.
func (r *DynamoDBStreamRecord) UnmarshalJSON(data []byte) error {
	var raw events.DynamoDBStreamRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = DynamoDBStreamRecord{
		SequenceNumber: raw.SequenceNumber,
		SizeBytes:      raw.SizeBytes,
		StreamViewType: raw.StreamViewType,
	}
	if !raw.ApproximateCreationDateTime.IsZero() {
		r.ApproximateCreationDateTime = raw.ApproximateCreationDateTime.Unix()
	}

	var err error
	if r.Keys, err = convertMap(raw.Keys); err != nil {
		return errors.Wrap(err, "Keys")
	}
	if r.NewImage, err = convertMap(raw.NewImage); err != nil {
		return errors.Wrap(err, "NewImage")
	}
	if r.OldImage, err = convertMap(raw.OldImage); err != nil {
		return errors.Wrap(err, "OldImage")
	}
	return nil
}

// UnmarshalAttributeValueMap decodes a DynamoDB JSON object such as
// {"pk": {"S": "42"}} into SDK attribute values.
func UnmarshalAttributeValueMap(data []byte) (map[string]types.AttributeValue, error) {
	var raw map[string]events.DynamoDBAttributeValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]types.AttributeValue{}, nil
	}
	return convertMap(raw)
}

// convertMap keeps a nil input nil so absent images stay absent.
func convertMap(m map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		av, err := convertAttributeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %q", k)
		}
		out[k] = av
	}
	return out, nil
}

func convertAttributeValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeMap:
		m, err := convertMap(v.Map())
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]types.AttributeValue{}
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case events.DataTypeList:
		src := v.List()
		list := make([]types.AttributeValue, len(src))
		for i, e := range src {
			av, err := convertAttributeValue(e)
			if err != nil {
				return nil, errors.Wrapf(err, "index %d", i)
			}
			list[i] = av
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	default:
		return nil, errors.Newf("unsupported attribute type %d", v.DataType())
	}
}
