package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/stackform-io/stackform/internal/provider"
)

const instanceWaitTimeout = 5 * time.Minute

var errNoInstances = errors.New("RunInstances returned no instances")

func (p *Provider) createKeyPair(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	computed := map[string]any{"name": name}

	// A declared public key is imported; otherwise AWS generates the pair
	// and the private key is only available here.
	if publicKey := strAttr(attrs, "publicKey"); publicKey != "" {
		resp, err := p.ec2Client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
			KeyName:           aws.String(name),
			PublicKeyMaterial: []byte(publicKey),
		})
		if err != nil {
			return "", nil, classify(err, "failed to import key pair %s", name)
		}
		computed["keyPairId"] = aws.ToString(resp.KeyPairId)
		computed["fingerprint"] = aws.ToString(resp.KeyFingerprint)
	} else {
		resp, err := p.ec2Client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
			KeyName: aws.String(name),
		})
		if err != nil {
			return "", nil, classify(err, "failed to create key pair %s", name)
		}
		computed["keyPairId"] = aws.ToString(resp.KeyPairId)
		computed["fingerprint"] = aws.ToString(resp.KeyFingerprint)
		computed["privateKey"] = aws.ToString(resp.KeyMaterial)
	}

	return name, withComputed(attrs, computed), nil
}

func (p *Provider) deleteKeyPair(ctx context.Context, name string) error {
	_, err := p.ec2Client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(name),
	})
	if err != nil {
		if isAPIError(err, "InvalidKeyPair.NotFound") {
			return &provider.NotFoundError{Type: TypeKeyPair, RemoteID: name}
		}
		return classify(err, "failed to delete key pair %s", name)
	}
	return nil
}

func (p *Provider) readKeyPair(ctx context.Context, name string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{name},
	})
	if err != nil {
		if isAPIError(err, "InvalidKeyPair.NotFound") {
			return nil, &provider.NotFoundError{Type: TypeKeyPair, RemoteID: name}
		}
		return nil, classify(err, "failed to read key pair %s", name)
	}
	if len(resp.KeyPairs) == 0 {
		return nil, &provider.NotFoundError{Type: TypeKeyPair, RemoteID: name}
	}
	pair := resp.KeyPairs[0]
	return map[string]any{
		"name":        aws.ToString(pair.KeyName),
		"keyPairId":   aws.ToString(pair.KeyPairId),
		"fingerprint": aws.ToString(pair.KeyFingerprint),
	}, nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(strAttr(attrs, "description")),
	}
	if vpcID := strAttr(attrs, "vpcId"); vpcID != "" {
		input.VpcId = aws.String(vpcID)
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", nil, classify(err, "failed to create security group %s", name)
	}
	groupID := aws.ToString(resp.GroupId)

	if perms := ingressPermissions(attrs); len(perms) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: perms,
		})
		if err != nil {
			return "", nil, classify(err, "failed to authorize ingress on %s", groupID)
		}
	}

	outputs := withComputed(attrs, map[string]any{
		"name": name,
		"id":   groupID,
	})
	return groupID, outputs, nil
}

// updateSecurityGroup swaps the ingress rule set wholesale: revoke what is
// there, authorize what is declared. Rule sets are small enough that rule
// level reconciliation is not worth the bookkeeping.
func (p *Provider) updateSecurityGroup(ctx context.Context, groupID string, attrs map[string]any) (map[string]any, error) {
	group, err := p.describeSecurityGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if len(group.IpPermissions) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: group.IpPermissions,
		})
		if err != nil {
			return nil, classify(err, "failed to revoke ingress on %s", groupID)
		}
	}
	if perms := ingressPermissions(attrs); len(perms) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: perms,
		})
		if err != nil {
			return nil, classify(err, "failed to authorize ingress on %s", groupID)
		}
	}

	return withComputed(attrs, map[string]any{
		"name": strAttr(attrs, "name"),
		"id":   groupID,
	}), nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, groupID string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(groupID),
	})
	if err != nil {
		if isAPIError(err, "InvalidGroup.NotFound", "InvalidGroupId.Malformed") {
			return &provider.NotFoundError{Type: TypeSecurityGroup, RemoteID: groupID}
		}
		return classify(err, "failed to delete security group %s", groupID)
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, groupID string) (map[string]any, error) {
	group, err := p.describeSecurityGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"name":        aws.ToString(group.GroupName),
		"description": aws.ToString(group.Description),
		"id":          groupID,
	}
	if vpcID := aws.ToString(group.VpcId); vpcID != "" {
		out["vpcId"] = vpcID
	}
	var ingress []any
	for _, perm := range group.IpPermissions {
		rule := map[string]any{
			"protocol": aws.ToString(perm.IpProtocol),
			"fromPort": float64(aws.ToInt32(perm.FromPort)),
			"toPort":   float64(aws.ToInt32(perm.ToPort)),
		}
		var cidrs []any
		for _, r := range perm.IpRanges {
			cidrs = append(cidrs, aws.ToString(r.CidrIp))
		}
		rule["cidrBlocks"] = cidrs
		ingress = append(ingress, rule)
	}
	out["ingress"] = ingress
	return out, nil
}

func (p *Provider) describeSecurityGroup(ctx context.Context, groupID string) (*ec2types.SecurityGroup, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{groupID},
	})
	if err != nil {
		if isAPIError(err, "InvalidGroup.NotFound", "InvalidGroupId.Malformed") {
			return nil, &provider.NotFoundError{Type: TypeSecurityGroup, RemoteID: groupID}
		}
		return nil, classify(err, "failed to describe security group %s", groupID)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, &provider.NotFoundError{Type: TypeSecurityGroup, RemoteID: groupID}
	}
	return &resp.SecurityGroups[0], nil
}

func ingressPermissions(attrs map[string]any) []ec2types.IpPermission {
	var perms []ec2types.IpPermission
	for _, raw := range sliceAttr(attrs, "ingress") {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		perm := ec2types.IpPermission{
			IpProtocol: aws.String(strAttr(rule, "protocol")),
			FromPort:   aws.Int32(int32Attr(rule, "fromPort")),
			ToPort:     aws.Int32(int32Attr(rule, "toPort")),
		}
		for _, cidr := range stringSliceAttr(rule, "cidrBlocks") {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{
				CidrIp: aws.String(cidr),
			})
		}
		perms = append(perms, perm)
	}
	return perms
}

func (p *Provider) createInstance(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(strAttr(attrs, "ami")),
		InstanceType: ec2types.InstanceType(strAttr(attrs, "instanceType")),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if keyName := strAttr(attrs, "keyName"); keyName != "" {
		input.KeyName = aws.String(keyName)
	}
	if groups := stringSliceAttr(attrs, "securityGroupIds"); len(groups) > 0 {
		input.SecurityGroupIds = groups
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", nil, classify(err, "failed to run instance %s", name)
	}
	if len(resp.Instances) == 0 {
		return "", nil, &provider.PermanentError{Err: errNoInstances}
	}
	instanceID := aws.ToString(resp.Instances[0].InstanceId)

	waiter := ec2.NewInstanceRunningWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, instanceWaitTimeout); err != nil {
		return "", nil, classify(err, "instance %s never reached running", instanceID)
	}

	if err := p.tagInstance(ctx, instanceID, name, attrs); err != nil {
		return "", nil, err
	}

	remote, err := p.readInstance(ctx, instanceID)
	if err != nil {
		return "", nil, err
	}
	return instanceID, withComputed(attrs, remote), nil
}

// updateInstance only rewrites tags. Everything else on the instance is
// declared immutable and replaced instead.
func (p *Provider) updateInstance(ctx context.Context, instanceID string, attrs map[string]any) (map[string]any, error) {
	if err := p.tagInstance(ctx, instanceID, "", attrs); err != nil {
		return nil, err
	}
	remote, err := p.readInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return withComputed(attrs, remote), nil
}

func (p *Provider) deleteInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return &provider.NotFoundError{Type: TypeInstance, RemoteID: instanceID}
		}
		return classify(err, "failed to terminate instance %s", instanceID)
	}
	return nil
}

func (p *Provider) readInstance(ctx context.Context, instanceID string) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return nil, &provider.NotFoundError{Type: TypeInstance, RemoteID: instanceID}
		}
		return nil, classify(err, "failed to describe instance %s", instanceID)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, &provider.NotFoundError{Type: TypeInstance, RemoteID: instanceID}
	}

	instance := resp.Reservations[0].Instances[0]
	if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameTerminated {
		return nil, &provider.NotFoundError{Type: TypeInstance, RemoteID: instanceID}
	}

	out := map[string]any{
		"id":           instanceID,
		"ami":          aws.ToString(instance.ImageId),
		"instanceType": string(instance.InstanceType),
	}
	if keyName := aws.ToString(instance.KeyName); keyName != "" {
		out["keyName"] = keyName
	}
	if ip := aws.ToString(instance.PublicIpAddress); ip != "" {
		out["publicIp"] = ip
	}
	if ip := aws.ToString(instance.PrivateIpAddress); ip != "" {
		out["privateIp"] = ip
	}
	if instance.State != nil {
		out["state"] = string(instance.State.Name)
	}
	var groups []any
	for _, g := range instance.SecurityGroups {
		groups = append(groups, aws.ToString(g.GroupId))
	}
	if len(groups) > 0 {
		out["securityGroupIds"] = groups
	}
	return out, nil
}

// tagInstance applies the declared tags plus a Name tag derived from the
// resource name when one was given.
func (p *Provider) tagInstance(ctx context.Context, instanceID, name string, attrs map[string]any) error {
	var tags []ec2types.Tag
	if raw, ok := attrs["tags"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(s)})
			}
		}
	}
	if name != "" {
		tags = append(tags, ec2types.Tag{Key: aws.String("Name"), Value: aws.String(name)})
	}
	if len(tags) == 0 {
		return nil
	}
	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      tags,
	})
	if err != nil {
		return classify(err, "failed to tag instance %s", instanceID)
	}
	return nil
}
