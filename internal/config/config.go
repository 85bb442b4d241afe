// Package config provides configuration loading for the WhaleRay control plane.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tables   TablesConfig   `mapstructure:"tables"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Platform PlatformConfig `mapstructure:"platform"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Database DatabaseConfig `mapstructure:"db"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TablesConfig names the DynamoDB tables backing the durable stores.
type TablesConfig struct {
	OAuthStates   string `mapstructure:"oauth_states"`
	Users         string `mapstructure:"users"`
	Installations string `mapstructure:"installations"`
	Deployments   string `mapstructure:"deployments"`
	Services      string `mapstructure:"services"`
	Database      string `mapstructure:"database"`
}

// GitHubConfig holds GitHub App and OAuth configuration.
type GitHubConfig struct {
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
	AppID            string `mapstructure:"app_id"`
	AppSlug          string `mapstructure:"app_slug"`
	PrivateKeySecret string `mapstructure:"private_key_arn"`
	CallbackURL      string `mapstructure:"callback_url"`
}

// InstallURL returns the GitHub App installation target picker URL.
func (c GitHubConfig) InstallURL() string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/select_target", c.AppSlug)
}

// AuthConfig holds platform token configuration.
type AuthConfig struct {
	JWTSecretARN string        `mapstructure:"jwt_secret_arn"`
	TokenExpiry  time.Duration `mapstructure:"token_expiry"`
	FrontendURL  string        `mapstructure:"frontend_url"`
}

// PlatformConfig holds project-wide naming and env vault configuration.
type PlatformConfig struct {
	ProjectName  string `mapstructure:"project_name"`
	APIDomain    string `mapstructure:"api_domain"`
	DomainName   string `mapstructure:"domain_name"`
	SSMKMSKeyARN string `mapstructure:"ssm_kms_key_arn"`
}

// ClusterConfig holds ECS and CodeBuild deployment infrastructure.
type ClusterConfig struct {
	ClusterName            string `mapstructure:"cluster_name"`
	ECRRepositoryURL       string `mapstructure:"ecr_repository_url"`
	TaskExecutionRole      string `mapstructure:"task_execution_role"`
	TaskRole               string `mapstructure:"task_role"`
	ECSInfraRoleARN        string `mapstructure:"ecs_infra_role_arn"`
	PrivateSubnets         string `mapstructure:"private_subnets"` // CSV
	FargateTaskSG          string `mapstructure:"fargate_task_sg"`
	ServiceDiscoveryArn    string `mapstructure:"service_discovery_registry_arn"`
	NamespaceID            string `mapstructure:"namespace_id"`
	Region                 string `mapstructure:"region"`
}

// PrivateSubnetIDs splits the CSV subnet list.
func (c ClusterConfig) PrivateSubnetIDs() []string {
	if c.PrivateSubnets == "" {
		return nil
	}
	return strings.Split(c.PrivateSubnets, ",")
}

// DatabaseConfig holds the database controller infrastructure.
type DatabaseConfig struct {
	TaskDefinitionARN string `mapstructure:"task_definition_arn"`
	Subnets           string `mapstructure:"subnets"` // CSV
	SecurityGroups    string `mapstructure:"security_groups"`
	ServiceARN        string `mapstructure:"db_service_arn"`
}

// SubnetIDs splits the CSV subnet list.
func (c DatabaseConfig) SubnetIDs() []string {
	if c.Subnets == "" {
		return nil
	}
	return strings.Split(c.Subnets, ",")
}

// PipelineConfig holds deployment pipeline tuning.
type PipelineConfig struct {
	// DeploymentTimeout is the age past which in-progress deployments
	// are swept to their _TIMEOUT state.
	DeploymentTimeout time.Duration `mapstructure:"deployment_timeout"`
	// BuildPollInterval is how often the build watcher polls CodeBuild.
	BuildPollInterval time.Duration `mapstructure:"build_poll_interval"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/whaleray")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The infrastructure contract uses fixed environment variable names,
	// so every one is bound explicitly (nested struct issue with viper).
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.environment", "ENVIRONMENT")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("tables.oauth_states", "OAUTH_STATES_TABLE")
	v.BindEnv("tables.users", "USERS_TABLE")
	v.BindEnv("tables.installations", "INSTALLATIONS_TABLE")
	v.BindEnv("tables.deployments", "DEPLOYMENTS_TABLE")
	v.BindEnv("tables.services", "SERVICES_TABLE")
	v.BindEnv("tables.database", "DATABASE_TABLE")

	v.BindEnv("github.client_id", "GITHUB_CLIENT_ID")
	v.BindEnv("github.client_secret", "GITHUB_CLIENT_SECRET")
	v.BindEnv("github.app_id", "GITHUB_APP_ID")
	v.BindEnv("github.app_slug", "GITHUB_APP_SLUG")
	v.BindEnv("github.private_key_arn", "GITHUB_APP_PRIVATE_KEY_ARN")
	v.BindEnv("github.callback_url", "GITHUB_CALLBACK_URL")

	v.BindEnv("auth.jwt_secret_arn", "JWT_SECRET_ARN")
	v.BindEnv("auth.frontend_url", "FRONTEND_URL")

	v.BindEnv("platform.project_name", "PROJECT_NAME")
	v.BindEnv("platform.api_domain", "API_DOMAIN")
	v.BindEnv("platform.domain_name", "DOMAIN_NAME")
	v.BindEnv("platform.ssm_kms_key_arn", "SSM_KMS_KEY_ARN")

	v.BindEnv("cluster.cluster_name", "CLUSTER_NAME")
	v.BindEnv("cluster.ecr_repository_url", "ECR_REPOSITORY_URL")
	v.BindEnv("cluster.task_execution_role", "TASK_EXECUTION_ROLE")
	v.BindEnv("cluster.task_role", "TASK_ROLE")
	v.BindEnv("cluster.ecs_infra_role_arn", "ECS_INFRA_ROLE_ARN")
	v.BindEnv("cluster.private_subnets", "PRIVATE_SUBNETS")
	v.BindEnv("cluster.fargate_task_sg", "FARGATE_TASK_SG")
	v.BindEnv("cluster.service_discovery_registry_arn", "SERVICE_DISCOVERY_REGISTRY_ARN")
	v.BindEnv("cluster.namespace_id", "NAMESPACE_ID")
	v.BindEnv("cluster.region", "AWS_REGION")

	v.BindEnv("db.task_definition_arn", "TASK_DEFINITION_ARN")
	v.BindEnv("db.subnets", "SUBNETS")
	v.BindEnv("db.security_groups", "SECURITY_GROUPS")
	v.BindEnv("db.db_service_arn", "DB_SERVICE_ARN")

	v.BindEnv("pipeline.deployment_timeout", "DEPLOYMENT_TIMEOUT_SECONDS")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DEPLOYMENT_TIMEOUT_SECONDS is a bare second count, not a duration
	// string, when it comes from the environment.
	if secs := v.GetInt("pipeline.deployment_timeout"); secs > 0 && cfg.Pipeline.DeploymentTimeout < time.Second {
		cfg.Pipeline.DeploymentTimeout = time.Duration(secs) * time.Second
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Table defaults
	v.SetDefault("tables.oauth_states", "whaleray-oauth-states")
	v.SetDefault("tables.users", "whaleray-users")
	v.SetDefault("tables.installations", "whaleray-installations")
	v.SetDefault("tables.deployments", "whaleray-deployments")
	v.SetDefault("tables.services", "whaleray-services")
	v.SetDefault("tables.database", "whaleray-databases")

	// Auth defaults
	v.SetDefault("auth.token_expiry", "168h") // 7 days
	v.SetDefault("auth.frontend_url", "http://localhost:3000")

	// Platform defaults
	v.SetDefault("platform.project_name", "whaleray")

	v.SetDefault("cluster.region", "ap-northeast-2")

	// Pipeline defaults: 1800s orphan threshold, 15s build poll
	v.SetDefault("pipeline.deployment_timeout", 1800)
	v.SetDefault("pipeline.build_poll_interval", "15s")
}
