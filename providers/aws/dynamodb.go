package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/stackform-io/stackform/internal/provider"
)

const tableWaitTimeout = 5 * time.Minute

func (p *Provider) createTable(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "tableName")

	var defs []dbtypes.AttributeDefinition
	for _, raw := range sliceAttr(attrs, "attributes") {
		attr, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		defs = append(defs, dbtypes.AttributeDefinition{
			AttributeName: aws.String(strAttr(attr, "name")),
			AttributeType: dbtypes.ScalarAttributeType(strAttr(attr, "type")),
		})
	}

	var schema []dbtypes.KeySchemaElement
	for _, raw := range sliceAttr(attrs, "keySchema") {
		elem, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		schema = append(schema, dbtypes.KeySchemaElement{
			AttributeName: aws.String(strAttr(elem, "name")),
			KeyType:       dbtypes.KeyType(strAttr(elem, "keyType")),
		})
	}

	billing := strAttr(attrs, "billingMode")
	if billing == "" {
		billing = string(dbtypes.BillingModePayPerRequest)
	}

	resp, err := p.dbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(name),
		AttributeDefinitions: defs,
		KeySchema:            schema,
		BillingMode:          dbtypes.BillingMode(billing),
	})
	if err != nil {
		return "", nil, classify(err, "failed to create table %s", name)
	}

	waiter := dynamodb.NewTableExistsWaiter(p.dbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	}, tableWaitTimeout); err != nil {
		return "", nil, classify(err, "table %s never became active", name)
	}

	outputs := withComputed(attrs, map[string]any{
		"tableName": name,
		"arn":       aws.ToString(resp.TableDescription.TableArn),
	})
	return name, outputs, nil
}

// updateTable handles the one mutable attribute, the billing mode. Key
// schema and attribute definitions force replacement at diff time.
func (p *Provider) updateTable(ctx context.Context, name string, attrs map[string]any) (map[string]any, error) {
	billing := strAttr(attrs, "billingMode")
	if billing != "" {
		_, err := p.dbClient.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:   aws.String(name),
			BillingMode: dbtypes.BillingMode(billing),
		})
		if err != nil {
			return nil, classify(err, "failed to update table %s", name)
		}
	}
	return p.describeTableOutputs(ctx, name, attrs)
}

func (p *Provider) deleteTable(ctx context.Context, name string) error {
	_, err := p.dbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		if isAPIError(err, "ResourceNotFoundException") {
			return &provider.NotFoundError{Type: TypeTable, RemoteID: name}
		}
		return classify(err, "failed to delete table %s", name)
	}
	return nil
}

func (p *Provider) readTable(ctx context.Context, name string) (map[string]any, error) {
	resp, err := p.dbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		if isAPIError(err, "ResourceNotFoundException") {
			return nil, &provider.NotFoundError{Type: TypeTable, RemoteID: name}
		}
		return nil, classify(err, "failed to read table %s", name)
	}

	desc := resp.Table
	out := map[string]any{
		"tableName": aws.ToString(desc.TableName),
		"arn":       aws.ToString(desc.TableArn),
	}
	var attrs []any
	for _, d := range desc.AttributeDefinitions {
		attrs = append(attrs, map[string]any{
			"name": aws.ToString(d.AttributeName),
			"type": string(d.AttributeType),
		})
	}
	out["attributes"] = attrs
	var schema []any
	for _, k := range desc.KeySchema {
		schema = append(schema, map[string]any{
			"name":    aws.ToString(k.AttributeName),
			"keyType": string(k.KeyType),
		})
	}
	out["keySchema"] = schema
	if desc.BillingModeSummary != nil {
		out["billingMode"] = string(desc.BillingModeSummary.BillingMode)
	}
	return out, nil
}

func (p *Provider) describeTableOutputs(ctx context.Context, name string, attrs map[string]any) (map[string]any, error) {
	resp, err := p.dbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		return nil, classify(err, "failed to describe table %s", name)
	}
	return withComputed(attrs, map[string]any{
		"tableName": name,
		"arn":       aws.ToString(resp.Table.TableArn),
	}), nil
}
