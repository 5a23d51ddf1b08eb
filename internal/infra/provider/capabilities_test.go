package provider

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKMS struct {
	plaintext []byte
	err       error
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return &kms.DecryptOutput{Plaintext: f.plaintext}, f.err
}

type fakeSSM struct {
	value      string
	err        error
	noParam    bool
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.noParam {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

type fakeDynamo struct {
	item map[string]ddbtypes.AttributeValue
	err  error
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

type fakeEC2 struct {
	images []ec2types.Image
	err    error
}

func (f *fakeEC2) DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

func adapterWithCaps(kmsC kmsClient, ssmC ssmClient, dynamoC dynamoClient, ec2C ec2Client) *Adapter {
	a := &Adapter{factory: &clientFactory{}}
	a.caps = &capabilityClients{
		kms:    map[string]kmsClient{"us-east-1": kmsC},
		ssm:    map[string]ssmClient{"us-east-1": ssmC},
		dynamo: map[string]dynamoClient{"us-east-1": dynamoC},
		ec2:    map[string]ec2Client{"us-east-1": ec2C},
	}
	return a
}

func TestDecryptReturnsPlaintextFromKMS(t *testing.T) {
	a := adapterWithCaps(&fakeKMS{plaintext: []byte("secret")}, nil, nil, nil)
	out, err := a.Decrypt(context.Background(), []byte("cipher"), "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), out)
}

func TestGetParameterReturnsValueFromSSM(t *testing.T) {
	a := adapterWithCaps(nil, &fakeSSM{value: "db-password"}, nil, nil)
	out, err := a.GetParameter(context.Background(), "/app/db/password", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "db-password", out)
}

func TestGetParameterMissingValueIsAnError(t *testing.T) {
	a := adapterWithCaps(nil, &fakeSSM{noParam: true}, nil, nil)
	_, err := a.GetParameter(context.Background(), "/app/missing", "us-east-1")
	require.Error(t, err)
}

func TestGetItemConvertsAttributeValuesToNativeTypes(t *testing.T) {
	item := map[string]ddbtypes.AttributeValue{
		"name":   &ddbtypes.AttributeValueMemberS{Value: "bastion"},
		"count":  &ddbtypes.AttributeValueMemberN{Value: "3"},
		"active": &ddbtypes.AttributeValueMemberBOOL{Value: true},
		"tags": &ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{
			"env": &ddbtypes.AttributeValueMemberS{Value: "prod"},
		}},
	}
	a := adapterWithCaps(nil, nil, &fakeDynamo{item: item}, nil)
	out, err := a.GetItem(context.Background(), "stacks", "us-east-1", map[string]string{"name": "bastion"})
	require.NoError(t, err)
	assert.Equal(t, "bastion", out["name"])
	assert.Equal(t, "3", out["count"])
	assert.Equal(t, true, out["active"])
	assert.Equal(t, map[string]interface{}{"env": "prod"}, out["tags"])
}

func TestGetItemMissingReturnsError(t *testing.T) {
	a := adapterWithCaps(nil, nil, &fakeDynamo{item: nil}, nil)
	_, err := a.GetItem(context.Background(), "stacks", "us-east-1", map[string]string{"name": "missing"})
	require.Error(t, err)
}

func TestFindAMIReturnsNewestImageByCreationDate(t *testing.T) {
	images := []ec2types.Image{
		{ImageId: aws.String("ami-old"), CreationDate: aws.String("2024-01-01T00:00:00.000Z")},
		{ImageId: aws.String("ami-new"), CreationDate: aws.String("2025-06-01T00:00:00.000Z")},
	}
	a := adapterWithCaps(nil, nil, nil, &fakeEC2{images: images})
	id, err := a.FindAMI(context.Background(), "us-east-1", map[string]string{"owner": "self"})
	require.NoError(t, err)
	assert.Equal(t, "ami-new", id)
}

func TestFindAMINoMatchesIsAnError(t *testing.T) {
	a := adapterWithCaps(nil, nil, nil, &fakeEC2{images: nil})
	_, err := a.FindAMI(context.Background(), "us-east-1", nil)
	require.Error(t, err)
}

func TestFromAttributeValueHandlesListAndNull(t *testing.T) {
	v := &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{
		&ddbtypes.AttributeValueMemberS{Value: "a"},
		&ddbtypes.AttributeValueMemberNULL{Value: true},
	}}
	out := fromAttributeValue(v)
	list, ok := out.([]interface{})
	require.True(t, ok)
	assert.Equal(t, "a", list[0])
	assert.Nil(t, list[1])
}
