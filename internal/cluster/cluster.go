// Package cluster wraps the ECS operations behind the deployment
// pipeline and the database controller: task definition registration,
// service create-or-update and teardown.
package cluster

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/whaleray/control-plane/internal/config"
)

// ecsAPI is the subset of the ECS client the cluster uses.
type ecsAPI interface {
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	DeregisterTaskDefinition(ctx context.Context, params *ecs.DeregisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DeregisterTaskDefinitionOutput, error)
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	CreateService(ctx context.Context, params *ecs.CreateServiceInput, optFns ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DeleteService(ctx context.Context, params *ecs.DeleteServiceInput, optFns ...func(*ecs.Options)) (*ecs.DeleteServiceOutput, error)
}

// ec2API is the subset of the EC2 client the cluster uses.
type ec2API interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// Cluster operates one ECS cluster on behalf of the control plane.
type Cluster struct {
	ecs      ecsAPI
	ec2      ec2API
	cfg      config.ClusterConfig
	dbCfg    config.DatabaseConfig
	project  string
	logGroup string
}

// New creates a cluster client. The project name derives log group and
// task family prefixes.
func New(ecsClient ecsAPI, ec2Client ec2API, cfg config.ClusterConfig, dbCfg config.DatabaseConfig, projectName string) *Cluster {
	return &Cluster{
		ecs:      ecsClient,
		ec2:      ec2Client,
		cfg:      cfg,
		dbCfg:    dbCfg,
		project:  projectName,
		logGroup: "/ecs/" + cfg.ClusterName,
	}
}

// LogGroup is the shared application log group. Streams are isolated by
// deployment id prefix.
func (c *Cluster) LogGroup() string {
	return c.logGroup
}

// RegisterAppTaskDefinition registers a Fargate task definition for one
// application deployment. The family carries a deployment id prefix so
// each rollout gets its own revision lineage and log streams.
func (c *Cluster) RegisterAppTaskDefinition(ctx context.Context, serviceName, deploymentID, image string, port int32) (string, error) {
	shortID := deploymentID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	family := fmt.Sprintf("%s-%s-%s", c.project, serviceName, shortID)

	out, err := c.ecs.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(family),
		Cpu:                     aws.String("256"),
		Memory:                  aws.String("512"),
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		ExecutionRoleArn:        aws.String(c.cfg.TaskExecutionRole),
		TaskRoleArn:             aws.String(c.cfg.TaskRole),
		ContainerDefinitions: []ecstypes.ContainerDefinition{
			{
				Name:      aws.String(serviceName),
				Image:     aws.String(image),
				Essential: aws.Bool(true),
				PortMappings: []ecstypes.PortMapping{
					{
						ContainerPort: aws.Int32(port),
						Protocol:      ecstypes.TransportProtocolTcp,
					},
				},
				LogConfiguration: c.awslogs(deploymentID),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("register task definition %s: %w", family, err)
	}
	return aws.ToString(out.TaskDefinition.TaskDefinitionArn), nil
}

// awslogs builds the shared-group log configuration with the given
// stream prefix.
func (c *Cluster) awslogs(streamPrefix string) *ecstypes.LogConfiguration {
	return &ecstypes.LogConfiguration{
		LogDriver: ecstypes.LogDriverAwslogs,
		Options: map[string]string{
			"awslogs-group":         c.logGroup,
			"awslogs-region":        c.cfg.Region,
			"awslogs-stream-prefix": streamPrefix,
			"awslogs-create-group":  "true",
		},
	}
}

// EnsureService rolls the task definition out to the named ECS service.
// An ACTIVE service is updated in place with a forced deployment; a
// missing or draining one is created fresh behind service discovery.
func (c *Cluster) EnsureService(ctx context.Context, serviceID, serviceName, taskDefARN string) error {
	desc, err := c.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.cfg.ClusterName),
		Services: []string{serviceID},
	})
	if err != nil {
		return fmt.Errorf("describe service %s: %w", serviceID, err)
	}

	if len(desc.Services) > 0 && aws.ToString(desc.Services[0].Status) == "ACTIVE" {
		_, err = c.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:            aws.String(c.cfg.ClusterName),
			Service:            aws.String(serviceID),
			TaskDefinition:     aws.String(taskDefARN),
			ForceNewDeployment: true,
		})
		if err != nil {
			return fmt.Errorf("update service %s: %w", serviceID, err)
		}
		return nil
	}

	_, err = c.ecs.CreateService(ctx, &ecs.CreateServiceInput{
		Cluster:        aws.String(c.cfg.ClusterName),
		ServiceName:    aws.String(serviceID),
		TaskDefinition: aws.String(taskDefARN),
		DesiredCount:   aws.Int32(1),
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        c.cfg.PrivateSubnetIDs(),
				SecurityGroups: []string{c.cfg.FargateTaskSG},
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
		ServiceRegistries: []ecstypes.ServiceRegistry{
			{
				RegistryArn:   aws.String(c.cfg.ServiceDiscoveryArn),
				ContainerName: aws.String(serviceName),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create service %s: %w", serviceID, err)
	}
	return nil
}

// SubnetAZ resolves the availability zone of a subnet.
func (c *Cluster) SubnetAZ(ctx context.Context, subnetID string) (string, error) {
	out, err := c.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: []string{subnetID},
	})
	if err != nil {
		return "", fmt.Errorf("describe subnet %s: %w", subnetID, err)
	}
	if len(out.Subnets) == 0 {
		return "", fmt.Errorf("subnet %s not found", subnetID)
	}
	return aws.ToString(out.Subnets[0].AvailabilityZone), nil
}

// RegisterDatabaseTaskDefinition clones the base database task
// definition with per-tenant credentials baked into the postgres and
// pgadmin containers, plus the EBS-backed data volume.
func (c *Cluster) RegisterDatabaseTaskDefinition(ctx context.Context, databaseID, username, password string) (string, error) {
	base, err := c.ecs.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(c.dbCfg.TaskDefinitionARN),
	})
	if err != nil {
		return "", fmt.Errorf("describe base task definition: %w", err)
	}
	td := base.TaskDefinition

	dbLogGroup := fmt.Sprintf("/ecs/%s-database", c.project)
	containers := td.ContainerDefinitions
	for i := range containers {
		switch aws.ToString(containers[i].Name) {
		case "postgres":
			containers[i].Environment = mergeEnv(containers[i].Environment, []ecstypes.KeyValuePair{
				{Name: aws.String("POSTGRES_USER"), Value: aws.String(username)},
				{Name: aws.String("POSTGRES_PASSWORD"), Value: aws.String(password)},
				{Name: aws.String("POSTGRES_DB"), Value: aws.String(c.project)},
				{Name: aws.String("PGDATA"), Value: aws.String("/var/lib/postgresql/data")},
			})
			// Mount one level above PGDATA so the entrypoint can create
			// the data directory itself.
			containers[i].MountPoints = []ecstypes.MountPoint{
				{
					SourceVolume:  aws.String("db-storage"),
					ContainerPath: aws.String("/var/lib/postgresql"),
					ReadOnly:      aws.Bool(false),
				},
			}
			containers[i].HealthCheck = &ecstypes.HealthCheck{
				Command:     []string{"CMD-SHELL", fmt.Sprintf("pg_isready -U %s -d %s", username, c.project)},
				Interval:    aws.Int32(30),
				Timeout:     aws.Int32(5),
				Retries:     aws.Int32(3),
				StartPeriod: aws.Int32(60),
			}
			containers[i].LogConfiguration = c.dbAwslogs(dbLogGroup, "postgres")
		case "pgadmin":
			containers[i].Environment = mergeEnv(containers[i].Environment, []ecstypes.KeyValuePair{
				{Name: aws.String("PGADMIN_DEFAULT_EMAIL"), Value: aws.String(fmt.Sprintf("%s@%s.com", username, c.project))},
				{Name: aws.String("PGADMIN_DEFAULT_PASSWORD"), Value: aws.String(password)},
			})
			containers[i].LogConfiguration = c.dbAwslogs(dbLogGroup, "pgadmin")
		}
	}

	volumes := td.Volumes
	if !hasVolume(volumes, "db-storage") {
		volumes = append(volumes, ecstypes.Volume{
			Name: aws.String("db-storage"),
			// Fargate EBS volumes are attached at service launch.
			ConfiguredAtLaunch: aws.Bool(true),
		})
	}

	out, err := c.ecs.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(fmt.Sprintf("%s-db-%s", c.project, databaseID)),
		TaskRoleArn:             td.TaskRoleArn,
		ExecutionRoleArn:        td.ExecutionRoleArn,
		NetworkMode:             td.NetworkMode,
		ContainerDefinitions:    containers,
		Volumes:                 volumes,
		RequiresCompatibilities: td.RequiresCompatibilities,
		Cpu:                     td.Cpu,
		Memory:                  td.Memory,
	})
	if err != nil {
		return "", fmt.Errorf("register database task definition: %w", err)
	}
	return aws.ToString(out.TaskDefinition.TaskDefinitionArn), nil
}

func (c *Cluster) dbAwslogs(group, streamPrefix string) *ecstypes.LogConfiguration {
	return &ecstypes.LogConfiguration{
		LogDriver: ecstypes.LogDriverAwslogs,
		Options: map[string]string{
			"awslogs-group":         group,
			"awslogs-region":        c.cfg.Region,
			"awslogs-stream-prefix": streamPrefix,
			"awslogs-create-group":  "true",
		},
	}
}

// mergeEnv replaces any existing values for the given names and appends
// the rest, preserving unrelated variables from the base definition.
func mergeEnv(existing, overrides []ecstypes.KeyValuePair) []ecstypes.KeyValuePair {
	replaced := make(map[string]bool, len(overrides))
	for _, kv := range overrides {
		replaced[aws.ToString(kv.Name)] = true
	}

	merged := make([]ecstypes.KeyValuePair, 0, len(existing)+len(overrides))
	for _, kv := range existing {
		if !replaced[aws.ToString(kv.Name)] {
			merged = append(merged, kv)
		}
	}
	return append(merged, overrides...)
}

func hasVolume(volumes []ecstypes.Volume, name string) bool {
	for _, v := range volumes {
		if aws.ToString(v.Name) == name {
			return true
		}
	}
	return false
}

// CreateDatabaseService launches a single-task database service pinned
// to one subnet, with a managed 1 GiB encrypted gp3 volume. The service
// registers under the shared database discovery service so the tenant
// endpoint is stable.
func (c *Cluster) CreateDatabaseService(ctx context.Context, databaseID, userID, taskDefARN, subnetID string) error {
	_, err := c.ecs.CreateService(ctx, &ecs.CreateServiceInput{
		Cluster:        aws.String(c.cfg.ClusterName),
		ServiceName:    aws.String("db-" + databaseID),
		TaskDefinition: aws.String(taskDefARN),
		LaunchType:     ecstypes.LaunchTypeFargate,
		DesiredCount:   aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        []string{subnetID},
				SecurityGroups: []string{c.dbCfg.SecurityGroups},
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
		ServiceRegistries: []ecstypes.ServiceRegistry{
			{
				RegistryArn:   aws.String(c.dbCfg.ServiceARN),
				ContainerName: aws.String("postgres"),
			},
		},
		Tags: []ecstypes.Tag{
			{Key: aws.String("databaseId"), Value: aws.String(databaseID)},
			{Key: aws.String("userId"), Value: aws.String(userID)},
		},
		PropagateTags:        ecstypes.PropagateTagsService,
		EnableECSManagedTags: true,
		VolumeConfigurations: []ecstypes.ServiceVolumeConfiguration{
			{
				Name: aws.String("db-storage"),
				ManagedEBSVolume: &ecstypes.ServiceManagedEBSVolumeConfiguration{
					RoleArn:        aws.String(c.cfg.ECSInfraRoleARN),
					VolumeType:     aws.String("gp3"),
					SizeInGiB:      aws.Int32(1),
					Encrypted:      aws.Bool(true),
					FilesystemType: ecstypes.TaskFilesystemTypeExt4,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create database service db-%s: %w", databaseID, err)
	}
	return nil
}

// ServiceCounts returns the running and desired task counts of a
// service. found is false when the service does not exist.
func (c *Cluster) ServiceCounts(ctx context.Context, service string) (running, desired int32, found bool, err error) {
	out, err := c.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.cfg.ClusterName),
		Services: []string{service},
	})
	if err != nil {
		return 0, 0, false, fmt.Errorf("describe service %s: %w", service, err)
	}
	if len(out.Services) == 0 {
		return 0, 0, false, nil
	}
	return out.Services[0].RunningCount, out.Services[0].DesiredCount, true, nil
}

// DeleteService force-deletes a service without draining. Fargate
// releases the managed EBS volume with the service.
func (c *Cluster) DeleteService(ctx context.Context, service string) error {
	_, err := c.ecs.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: aws.String(c.cfg.ClusterName),
		Service: aws.String(service),
		Force:   aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("delete service %s: %w", service, err)
	}
	return nil
}

// DeregisterTaskDefinition retires a task definition revision.
func (c *Cluster) DeregisterTaskDefinition(ctx context.Context, taskDefARN string) error {
	_, err := c.ecs.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: aws.String(taskDefARN),
	})
	if err != nil {
		return fmt.Errorf("deregister task definition %s: %w", taskDefARN, err)
	}
	return nil
}
