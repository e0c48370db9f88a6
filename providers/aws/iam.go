package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

func (p *Provider) createUser(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	input := &iam.CreateUserInput{UserName: aws.String(name)}
	if path := strAttr(attrs, "path"); path != "" {
		input.Path = aws.String(path)
	}
	resp, err := p.iamClient.CreateUser(ctx, input)
	if err != nil {
		return "", nil, classify(err, "failed to create user %s", name)
	}
	outputs := withComputed(attrs, map[string]any{
		"name":   name,
		"arn":    aws.ToString(resp.User.Arn),
		"userId": aws.ToString(resp.User.UserId),
	})
	return name, outputs, nil
}

func (p *Provider) deleteUser(ctx context.Context, name string) error {
	_, err := p.iamClient.DeleteUser(ctx, &iam.DeleteUserInput{
		UserName: aws.String(name),
	})
	if err != nil {
		if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
			return &provider.NotFoundError{Type: TypeUser, RemoteID: name}
		}
		return classify(err, "failed to delete user %s", name)
	}
	return nil
}

func (p *Provider) readUser(ctx context.Context, name string) (map[string]any, error) {
	resp, err := p.iamClient.GetUser(ctx, &iam.GetUserInput{
		UserName: aws.String(name),
	})
	if err != nil {
		if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
			return nil, &provider.NotFoundError{Type: TypeUser, RemoteID: name}
		}
		return nil, classify(err, "failed to read user %s", name)
	}
	out := map[string]any{
		"name":   aws.ToString(resp.User.UserName),
		"arn":    aws.ToString(resp.User.Arn),
		"userId": aws.ToString(resp.User.UserId),
	}
	if path := aws.ToString(resp.User.Path); path != "/" {
		out["path"] = path
	}
	return out, nil
}

// createPolicy creates a managed policy and attaches it to the declared
// users. The remote id is the policy ARN.
func (p *Provider) createPolicy(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	document, err := policyDocument(attrs)
	if err != nil {
		return "", nil, err
	}

	resp, err := p.iamClient.CreatePolicy(ctx, &iam.CreatePolicyInput{
		PolicyName:     aws.String(name),
		PolicyDocument: aws.String(document),
	})
	if err != nil {
		return "", nil, classify(err, "failed to create policy %s", name)
	}
	arn := aws.ToString(resp.Policy.Arn)

	for _, user := range stringSliceAttr(attrs, "users") {
		if err := p.attachUserPolicy(ctx, user, arn); err != nil {
			return "", nil, err
		}
	}

	outputs := withComputed(attrs, map[string]any{
		"name": name,
		"arn":  arn,
	})
	return arn, outputs, nil
}

// updatePolicy reconciles user attachments. The document itself is
// immutable and forces replacement at diff time.
func (p *Provider) updatePolicy(ctx context.Context, arn string, attrs map[string]any) (map[string]any, error) {
	current, err := p.attachedUsers(ctx, arn)
	if err != nil {
		return nil, err
	}

	desired := make(map[string]bool)
	for _, user := range stringSliceAttr(attrs, "users") {
		desired[user] = true
		if !current[user] {
			if err := p.attachUserPolicy(ctx, user, arn); err != nil {
				return nil, err
			}
		}
	}
	for user := range current {
		if !desired[user] {
			if err := p.detachUserPolicy(ctx, user, arn); err != nil {
				return nil, err
			}
		}
	}

	return withComputed(attrs, map[string]any{
		"name": strAttr(attrs, "name"),
		"arn":  arn,
	}), nil
}

func (p *Provider) deletePolicy(ctx context.Context, arn string) error {
	current, err := p.attachedUsers(ctx, arn)
	if err != nil {
		if provider.IsNotFound(err) {
			return &provider.NotFoundError{Type: TypePolicy, RemoteID: arn}
		}
		return err
	}
	for user := range current {
		if err := p.detachUserPolicy(ctx, user, arn); err != nil {
			return err
		}
	}

	_, err = p.iamClient.DeletePolicy(ctx, &iam.DeletePolicyInput{
		PolicyArn: aws.String(arn),
	})
	if err != nil {
		if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
			return &provider.NotFoundError{Type: TypePolicy, RemoteID: arn}
		}
		return classify(err, "failed to delete policy %s", arn)
	}
	return nil
}

func (p *Provider) readPolicy(ctx context.Context, arn string) (map[string]any, error) {
	resp, err := p.iamClient.GetPolicy(ctx, &iam.GetPolicyInput{
		PolicyArn: aws.String(arn),
	})
	if err != nil {
		if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
			return nil, &provider.NotFoundError{Type: TypePolicy, RemoteID: arn}
		}
		return nil, classify(err, "failed to read policy %s", arn)
	}

	out := map[string]any{
		"name": aws.ToString(resp.Policy.PolicyName),
		"arn":  arn,
	}

	version, err := p.iamClient.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: resp.Policy.DefaultVersionId,
	})
	if err == nil {
		// The document comes back URL encoded.
		if raw, err := url.QueryUnescape(aws.ToString(version.PolicyVersion.Document)); err == nil {
			var doc map[string]any
			if json.Unmarshal([]byte(raw), &doc) == nil {
				out["document"] = ir.NormalizeValue(doc)
			}
		}
	}

	current, err := p.attachedUsers(ctx, arn)
	if err == nil && len(current) > 0 {
		var users []any
		for user := range current {
			users = append(users, user)
		}
		out["users"] = users
	}
	return out, nil
}

func (p *Provider) attachUserPolicy(ctx context.Context, user, arn string) error {
	_, err := p.iamClient.AttachUserPolicy(ctx, &iam.AttachUserPolicyInput{
		UserName:  aws.String(user),
		PolicyArn: aws.String(arn),
	})
	if err != nil {
		return classify(err, "failed to attach policy %s to user %s", arn, user)
	}
	return nil
}

func (p *Provider) detachUserPolicy(ctx context.Context, user, arn string) error {
	_, err := p.iamClient.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
		UserName:  aws.String(user),
		PolicyArn: aws.String(arn),
	})
	if err != nil && !isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
		return classify(err, "failed to detach policy %s from user %s", arn, user)
	}
	return nil
}

func (p *Provider) attachedUsers(ctx context.Context, arn string) (map[string]bool, error) {
	users := make(map[string]bool)
	var marker *string
	for {
		resp, err := p.iamClient.ListEntitiesForPolicy(ctx, &iam.ListEntitiesForPolicyInput{
			PolicyArn: aws.String(arn),
			Marker:    marker,
		})
		if err != nil {
			if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
				return nil, &provider.NotFoundError{Type: TypePolicy, RemoteID: arn}
			}
			return nil, classify(err, "failed to list attachments for policy %s", arn)
		}
		for _, user := range resp.PolicyUsers {
			users[aws.ToString(user.UserName)] = true
		}
		if !resp.IsTruncated {
			return users, nil
		}
		marker = resp.Marker
	}
}

func policyDocument(attrs map[string]any) (string, error) {
	switch doc := attrs["document"].(type) {
	case string:
		return doc, nil
	case map[string]any:
		raw, err := json.Marshal(doc)
		if err != nil {
			return "", &provider.PermanentError{Err: fmt.Errorf("invalid policy document: %w", err)}
		}
		return string(raw), nil
	default:
		return "", &provider.PermanentError{Err: fmt.Errorf("policy requires a 'document' attribute")}
	}
}

// Access keys are identified as "<user>/<accessKeyId>" so deletion does
// not need the owning user recorded anywhere else.

func (p *Provider) createAccessKey(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	user := strAttr(attrs, "user")
	resp, err := p.iamClient.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{
		UserName: aws.String(user),
	})
	if err != nil {
		return "", nil, classify(err, "failed to create access key for user %s", user)
	}
	keyID := aws.ToString(resp.AccessKey.AccessKeyId)
	outputs := withComputed(attrs, map[string]any{
		"user":        user,
		"accessKeyId": keyID,
		// Only available at creation time.
		"secretAccessKey": aws.ToString(resp.AccessKey.SecretAccessKey),
		"status":          string(resp.AccessKey.Status),
	})
	return user + "/" + keyID, outputs, nil
}

func (p *Provider) deleteAccessKey(ctx context.Context, remoteID string) error {
	user, keyID, err := splitAccessKeyID(remoteID)
	if err != nil {
		return err
	}
	_, err = p.iamClient.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		UserName:    aws.String(user),
		AccessKeyId: aws.String(keyID),
	})
	if err != nil {
		if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
			return &provider.NotFoundError{Type: TypeAccessKey, RemoteID: remoteID}
		}
		return classify(err, "failed to delete access key %s", remoteID)
	}
	return nil
}

func (p *Provider) readAccessKey(ctx context.Context, remoteID string) (map[string]any, error) {
	user, keyID, err := splitAccessKeyID(remoteID)
	if err != nil {
		return nil, err
	}
	resp, err := p.iamClient.ListAccessKeys(ctx, &iam.ListAccessKeysInput{
		UserName: aws.String(user),
	})
	if err != nil {
		if isAPIError(err, "NoSuchEntity", "NoSuchEntityException") {
			return nil, &provider.NotFoundError{Type: TypeAccessKey, RemoteID: remoteID}
		}
		return nil, classify(err, "failed to list access keys for user %s", user)
	}
	for _, meta := range resp.AccessKeyMetadata {
		if aws.ToString(meta.AccessKeyId) == keyID {
			return map[string]any{
				"user":        user,
				"accessKeyId": keyID,
				"status":      string(meta.Status),
			}, nil
		}
	}
	return nil, &provider.NotFoundError{Type: TypeAccessKey, RemoteID: remoteID}
}

func splitAccessKeyID(remoteID string) (user, keyID string, err error) {
	user, keyID, ok := strings.Cut(remoteID, "/")
	if !ok || user == "" || keyID == "" {
		return "", "", &provider.PermanentError{
			Err: fmt.Errorf("malformed access key id %q, want user/accessKeyId", remoteID),
		}
	}
	return user, keyID, nil
}
