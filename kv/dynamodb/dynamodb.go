// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dynamodb is the canonical dynalock.Gateway, backed directly by a
// DynamoDB table via aws-sdk-go-v2's expression builder for every
// conditional write.
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/acquirecloud/dynalock"
	dynalockerrors "github.com/acquirecloud/dynalock/golibs/errors"
	"github.com/acquirecloud/dynalock/golibs/logging"
)

// Gateway is a dynalock.Gateway backed by DynamoDB.
type Gateway struct {
	db     *dynamodb.Client
	schema dynalock.Schema
	logger logging.Logger
}

// New returns a Gateway against table schema.TableName, using db.
func New(db *dynamodb.Client, schema dynalock.Schema) *Gateway {
	return &Gateway{db: db, schema: schema, logger: logging.NewLogger("dynamodb.Gateway")}
}

var _ dynalock.Gateway = (*Gateway)(nil)

// EnsureTable idempotently creates the backing table if it does not exist
// yet, per this module's stance that table provisioning is an external
// collaborator invoked once at construction, not part of the locking
// protocol itself.
func (g *Gateway) EnsureTable(ctx context.Context) error {
	_, err := g.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(g.schema.TableName)})
	if err == nil {
		return nil
	}
	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return fmt.Errorf("could not describe table %s: %w", g.schema.TableName, err)
	}
	_, err = g.db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(g.schema.TableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(g.schema.NameAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(g.schema.NameAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(g.schema.ReadCapacity),
			WriteCapacityUnits: aws.Int64(g.schema.WriteCapacity),
		},
	})
	if err != nil {
		return fmt.Errorf("could not create table %s: %w", g.schema.TableName, err)
	}
	return nil
}

func (g *Gateway) Get(ctx context.Context, name string) (dynalock.Record, error) {
	out, err := g.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(g.schema.TableName),
		ConsistentRead: aws.Bool(true),
		Key:            g.keyItem(name),
	})
	if err != nil {
		return dynalock.Record{}, fmt.Errorf("GetItem(%s) failed: %w", name, err)
	}
	if out.Item == nil {
		return dynalock.Record{}, dynalockerrors.ErrNotExist
	}
	return g.itemToRecord(name, out.Item), nil
}

func (g *Gateway) PutIfAbsent(ctx context.Context, record dynalock.Record) error {
	cond := expression.AttributeNotExists(expression.Name(g.schema.NameAttr))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("could not build expression: %w", err)
	}
	_, err = g.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(g.schema.TableName),
		Item:                      g.recordToItem(record),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return g.checkConditionErr(err)
}

func (g *Gateway) UpdateIf(ctx context.Context, name string, updates, expected map[string]any) error {
	cond, err := g.conditionFor(name, expected)
	if err != nil {
		return err
	}
	upd := expression.UpdateBuilder{}
	for field, v := range updates {
		upd = upd.Set(expression.Name(g.attrFor(field)), expression.Value(v))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
	if err != nil {
		return fmt.Errorf("could not build expression: %w", err)
	}
	_, err = g.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(g.schema.TableName),
		Key:                       g.keyItem(name),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return g.checkConditionErr(err)
}

func (g *Gateway) DeleteIf(ctx context.Context, name string, expected map[string]any) error {
	cond, err := g.conditionFor(name, expected)
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("could not build expression: %w", err)
	}
	_, err = g.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(g.schema.TableName),
		Key:                       g.keyItem(name),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return g.checkConditionErr(err)
}

// conditionFor builds the AND of AttributeExists(name) with an equality
// check per (field, value) pair in expected, mirroring the ownership/
// version conditions the cirello-io/dynamolock client builds for its own
// takeover, release, and touch calls.
func (g *Gateway) conditionFor(name string, expected map[string]any) (expression.ConditionBuilder, error) {
	cond := expression.AttributeExists(expression.Name(g.schema.NameAttr))
	for field, want := range expected {
		if field == dynalock.FieldName {
			continue
		}
		cond = cond.And(expression.Equal(expression.Name(g.attrFor(field)), expression.Value(want)))
	}
	return cond, nil
}

func (g *Gateway) attrFor(field string) string {
	switch field {
	case dynalock.FieldOwner:
		return g.schema.OwnerAttr
	case dynalock.FieldVersion:
		return g.schema.VersionAttr
	case dynalock.FieldIsLocked:
		return g.schema.IsLockedAttr
	case dynalock.FieldDuration:
		return g.schema.DurationAttr
	case dynalock.FieldPayload:
		return g.schema.PayloadAttr
	default:
		return field
	}
}

func (g *Gateway) keyItem(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		g.schema.NameAttr: &types.AttributeValueMemberS{Value: name},
	}
}

func (g *Gateway) recordToItem(r dynalock.Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		g.schema.NameAttr:     &types.AttributeValueMemberS{Value: r.Name},
		g.schema.OwnerAttr:    &types.AttributeValueMemberS{Value: r.Owner},
		g.schema.VersionAttr:  &types.AttributeValueMemberS{Value: r.Version},
		g.schema.DurationAttr: &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", r.Duration)},
		g.schema.IsLockedAttr: &types.AttributeValueMemberBOOL{Value: r.IsLocked},
	}
	if r.Payload != nil {
		item[g.schema.PayloadAttr] = &types.AttributeValueMemberB{Value: r.Payload}
	}
	return item
}

func (g *Gateway) itemToRecord(name string, item map[string]types.AttributeValue) dynalock.Record {
	r := dynalock.Record{Name: name}
	if v, ok := item[g.schema.OwnerAttr].(*types.AttributeValueMemberS); ok {
		r.Owner = v.Value
	}
	if v, ok := item[g.schema.VersionAttr].(*types.AttributeValueMemberS); ok {
		r.Version = v.Value
	}
	if v, ok := item[g.schema.DurationAttr].(*types.AttributeValueMemberN); ok {
		fmt.Sscanf(v.Value, "%d", &r.Duration)
	}
	if v, ok := item[g.schema.IsLockedAttr].(*types.AttributeValueMemberBOOL); ok {
		r.IsLocked = v.Value
	}
	if v, ok := item[g.schema.PayloadAttr].(*types.AttributeValueMemberB); ok {
		r.Payload = v.Value
	}
	return r
}

func (g *Gateway) checkConditionErr(err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return dynalock.ErrPrecondition
	}
	return fmt.Errorf("dynamodb call failed: %w", err)
}
