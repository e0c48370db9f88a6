// Package aws implements the resource types backed by aws-sdk-go-v2.
// A non-empty endpoint in the provider settings points every client at a
// local emulator such as LocalStack, with static credentials.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

const (
	TypeBucket        = "aws:S3.Bucket"
	TypeTable         = "aws:DynamoDB.Table"
	TypeUser          = "aws:IAM.User"
	TypePolicy        = "aws:IAM.Policy"
	TypeAccessKey     = "aws:IAM.AccessKey"
	TypeKeyPair       = "aws:EC2.KeyPair"
	TypeSecurityGroup = "aws:EC2.SecurityGroup"
	TypeInstance      = "aws:EC2.Instance"
)

// immutableAttrs lists, per type, the attributes that cannot change in
// place. A structural update touching one of them becomes a replacement.
var immutableAttrs = map[string][]string{
	TypeBucket:        {"bucket"},
	TypeTable:         {"tableName", "attributes", "keySchema"},
	TypeUser:          {"name"},
	TypePolicy:        {"name", "document"},
	TypeAccessKey:     {"user"},
	TypeKeyPair:       {"name", "publicKey"},
	TypeSecurityGroup: {"name", "description", "vpcId"},
	TypeInstance:      {"ami", "instanceType", "keyName", "securityGroupIds"},
}

type Provider struct {
	s3Client  *s3.Client
	dbClient  *dynamodb.Client
	iamClient *iam.Client
	ec2Client *ec2.Client

	region string
}

func New(settings *provider.Settings) (provider.Provider, error) {
	region := "us-east-1"
	endpoint := ""
	var opts []func(*awsconfig.LoadOptions) error
	if settings != nil {
		if settings.Region != "" {
			region = settings.Region
		}
		if settings.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(settings.Profile))
		}
		endpoint = settings.Endpoint
	}
	opts = append(opts, awsconfig.WithRegion(region))
	if endpoint != "" {
		// Local emulators accept any static credentials.
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	p := &Provider{region: region}
	p.s3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	p.dbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	p.iamClient = iam.NewFromConfig(cfg, func(o *iam.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	p.ec2Client = ec2.NewFromConfig(cfg, func(o *ec2.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return p, nil
}

// Diff is structural, upgraded to a replacement when an immutable
// attribute changed.
func (p *Provider) Diff(ctx context.Context, typ string, declared, prior map[string]any) (*provider.Delta, error) {
	if _, ok := immutableAttrs[typ]; !ok {
		return nil, unsupportedType(typ)
	}
	delta := provider.StructuralDiff(declared, prior)
	if delta.Action != ir.ActionUpdate {
		return delta, nil
	}
	for _, attr := range delta.Changed {
		for _, immutable := range immutableAttrs[typ] {
			if attr == immutable {
				delta.Action = ir.ActionReplace
				return delta, nil
			}
		}
	}
	return delta, nil
}

func (p *Provider) Create(ctx context.Context, typ, name string, attrs map[string]any) (string, map[string]any, error) {
	switch typ {
	case TypeBucket:
		return p.createBucket(ctx, name, attrs)
	case TypeTable:
		return p.createTable(ctx, attrs)
	case TypeUser:
		return p.createUser(ctx, attrs)
	case TypePolicy:
		return p.createPolicy(ctx, attrs)
	case TypeAccessKey:
		return p.createAccessKey(ctx, attrs)
	case TypeKeyPair:
		return p.createKeyPair(ctx, attrs)
	case TypeSecurityGroup:
		return p.createSecurityGroup(ctx, attrs)
	case TypeInstance:
		return p.createInstance(ctx, name, attrs)
	default:
		return "", nil, unsupportedType(typ)
	}
}

func (p *Provider) Update(ctx context.Context, typ, remoteID string, attrs map[string]any) (map[string]any, error) {
	switch typ {
	case TypeBucket:
		return p.updateBucket(ctx, remoteID, attrs)
	case TypeTable:
		return p.updateTable(ctx, remoteID, attrs)
	case TypeUser:
		// No mutable attributes beyond the identity.
		return p.readUser(ctx, remoteID)
	case TypePolicy:
		return p.updatePolicy(ctx, remoteID, attrs)
	case TypeSecurityGroup:
		return p.updateSecurityGroup(ctx, remoteID, attrs)
	case TypeInstance:
		return p.updateInstance(ctx, remoteID, attrs)
	case TypeAccessKey, TypeKeyPair:
		return nil, &provider.PermanentError{
			Err: fmt.Errorf("%s does not support in-place updates", typ),
		}
	default:
		return nil, unsupportedType(typ)
	}
}

func (p *Provider) Delete(ctx context.Context, typ, remoteID string) error {
	switch typ {
	case TypeBucket:
		return p.deleteBucket(ctx, remoteID)
	case TypeTable:
		return p.deleteTable(ctx, remoteID)
	case TypeUser:
		return p.deleteUser(ctx, remoteID)
	case TypePolicy:
		return p.deletePolicy(ctx, remoteID)
	case TypeAccessKey:
		return p.deleteAccessKey(ctx, remoteID)
	case TypeKeyPair:
		return p.deleteKeyPair(ctx, remoteID)
	case TypeSecurityGroup:
		return p.deleteSecurityGroup(ctx, remoteID)
	case TypeInstance:
		return p.deleteInstance(ctx, remoteID)
	default:
		return unsupportedType(typ)
	}
}

func (p *Provider) Read(ctx context.Context, typ, remoteID string) (map[string]any, error) {
	switch typ {
	case TypeBucket:
		return p.readBucket(ctx, remoteID)
	case TypeTable:
		return p.readTable(ctx, remoteID)
	case TypeUser:
		return p.readUser(ctx, remoteID)
	case TypePolicy:
		return p.readPolicy(ctx, remoteID)
	case TypeAccessKey:
		return p.readAccessKey(ctx, remoteID)
	case TypeKeyPair:
		return p.readKeyPair(ctx, remoteID)
	case TypeSecurityGroup:
		return p.readSecurityGroup(ctx, remoteID)
	case TypeInstance:
		return p.readInstance(ctx, remoteID)
	default:
		return nil, unsupportedType(typ)
	}
}

func unsupportedType(typ string) error {
	return &provider.PermanentError{Err: fmt.Errorf("unsupported resource type %q", typ)}
}

// classify maps an SDK failure onto the engine's retry taxonomy. Server
// faults and throttling codes are worth retrying; everything else is not.
func classify(err error, msg string, args ...any) error {
	wrapped := fmt.Errorf(msg+": %w", append(args, err)...)
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded",
			"TooManyRequestsException", "ProvisionedThroughputExceededException",
			"ServiceUnavailable", "SlowDown", "RequestTimeout", "InternalError":
			return &provider.TransientError{Err: wrapped}
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return &provider.TransientError{Err: wrapped}
		}
		return &provider.PermanentError{Err: wrapped}
	}
	// No API error means the request never got a response. Network level
	// failures are transient by the message heuristics downstream.
	return wrapped
}

func isAPIError(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, code := range codes {
		if ae.ErrorCode() == code {
			return true
		}
	}
	return false
}

// Attribute accessors. Values arrive normalized: numbers are float64,
// nested maps are map[string]any.

func strAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func boolAttr(attrs map[string]any, key string) bool {
	b, _ := attrs[key].(bool)
	return b
}

func int32Attr(attrs map[string]any, key string) int32 {
	f, _ := attrs[key].(float64)
	return int32(f)
}

func sliceAttr(attrs map[string]any, key string) []any {
	s, _ := attrs[key].([]any)
	return s
}

func stringSliceAttr(attrs map[string]any, key string) []string {
	raw := sliceAttr(attrs, key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// withComputed copies the input attributes and overlays provider-computed
// values, producing the outputs recorded in state.
func withComputed(attrs map[string]any, computed map[string]any) map[string]any {
	out := make(map[string]any, len(attrs)+len(computed))
	for k, v := range attrs {
		out[k] = v
	}
	for k, v := range computed {
		out[k] = v
	}
	return ir.NormalizeProps(out)
}
