// Package spawner launches ephemeral worker tasks on ECS Fargate. Each
// session gets exactly one task; the task ARN doubles as the tracking id
// the session store keeps for later cancellation.
package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/google/uuid"
)

// ecsAPI is the subset of the ECS client the spawner uses.
type ecsAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// Config identifies the cluster and task template workers run on.
type Config struct {
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool

	// CPU and Memory override the task definition's size. Zero values keep
	// the definition's defaults.
	CPU    int
	Memory int

	// APIURL is the control-plane address handed to the worker.
	APIURL string

	// Project is stamped on every task tag for cost attribution.
	Project string
}

// Request carries everything one worker needs to attach back to its
// session.
type Request struct {
	SessionID   string
	WorkerID    string
	AccessToken string
	Skill       string
	Parameters  map[string]any
}

// Task is the spawner's view of a running task.
type Task struct {
	TrackingID string
	Status     string
	StopReason string
}

// Spawner runs worker tasks. It is safe for concurrent use.
type Spawner struct {
	client ecsAPI
	cfg    Config
	logger *slog.Logger
}

// New creates a spawner. Config sizes are validated here rather than at
// spawn time so a bad deployment fails fast.
func New(client ecsAPI, cfg Config) (*Spawner, error) {
	if cfg.Cluster == "" || cfg.TaskDefinition == "" || cfg.ContainerName == "" {
		return nil, fmt.Errorf("spawner config requires cluster, task definition and container name")
	}
	if cfg.CPU != 0 || cfg.Memory != 0 {
		if err := ValidateTaskSize(cfg.CPU, cfg.Memory); err != nil {
			return nil, fmt.Errorf("invalid task size: %w", err)
		}
	}
	return &Spawner{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "spawner"),
	}, nil
}

// Spawn launches one worker task for the request and returns its tracking
// id (the ECS task ARN).
func (s *Spawner) Spawn(ctx context.Context, req Request) (string, error) {
	env, err := s.environment(req)
	if err != nil {
		return "", err
	}

	// The launch id is generated before submission so it can be both the
	// StartedBy marker and the tracking-id tag.
	launchID := "hq-" + uuid.NewString()[:8]

	input := &ecs.RunTaskInput{
		Cluster:        aws.String(s.cfg.Cluster),
		TaskDefinition: aws.String(s.cfg.TaskDefinition),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		StartedBy:      aws.String(launchID),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        s.cfg.Subnets,
				SecurityGroups: s.cfg.SecurityGroups,
				AssignPublicIp: assignPublicIP(s.cfg.AssignPublicIP),
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name:        aws.String(s.cfg.ContainerName),
				Environment: env,
			}},
		},
		Tags: s.tags(req, launchID),
	}
	if s.cfg.CPU != 0 {
		input.Overrides.Cpu = aws.String(strconv.Itoa(s.cfg.CPU))
		input.Overrides.Memory = aws.String(strconv.Itoa(s.cfg.Memory))
	}

	out, err := s.client.RunTask(ctx, input)
	if err != nil {
		return "", fmt.Errorf("run task: %w", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", fmt.Errorf("run task rejected: %s (%s)",
			aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 || out.Tasks[0].TaskArn == nil {
		return "", fmt.Errorf("run task returned no task")
	}

	arn := *out.Tasks[0].TaskArn
	s.logger.Info("Worker task launched",
		"session_id", req.SessionID, "worker_id", req.WorkerID, "task_arn", arn)
	return arn, nil
}

// Stop cancels a previously spawned task. Implements the session store's
// startup-timeout hook.
func (s *Spawner) Stop(ctx context.Context, trackingID string) error {
	_, err := s.client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(s.cfg.Cluster),
		Task:    aws.String(trackingID),
		Reason:  aws.String("Stopped by control plane"),
	})
	if err != nil {
		return fmt.Errorf("stop task %s: %w", trackingID, err)
	}
	return nil
}

// Describe fetches the current status of a spawned task.
func (s *Spawner) Describe(ctx context.Context, trackingID string) (Task, error) {
	out, err := s.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(s.cfg.Cluster),
		Tasks:   []string{trackingID},
	})
	if err != nil {
		return Task{}, fmt.Errorf("describe task %s: %w", trackingID, err)
	}
	if len(out.Tasks) == 0 {
		return Task{}, fmt.Errorf("task %s not found", trackingID)
	}
	t := out.Tasks[0]
	return Task{
		TrackingID: trackingID,
		Status:     aws.ToString(t.LastStatus),
		StopReason: aws.ToString(t.StoppedReason),
	}, nil
}

// environment composes the worker's contract variables. Parameters are
// passed as one JSON blob rather than flattened.
func (s *Spawner) environment(req Request) ([]types.KeyValuePair, error) {
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	pair := func(name, value string) types.KeyValuePair {
		return types.KeyValuePair{Name: aws.String(name), Value: aws.String(value)}
	}
	return []types.KeyValuePair{
		pair("SESSION_ID", req.SessionID),
		pair("API_URL", s.cfg.APIURL),
		pair("ACCESS_TOKEN", req.AccessToken),
		pair("WORKER_ID", req.WorkerID),
		pair("SKILL", req.Skill),
		pair("PARAMETERS", string(paramsJSON)),
	}, nil
}

func (s *Spawner) tags(req Request, launchID string) []types.Tag {
	tag := func(key, value string) types.Tag {
		return types.Tag{Key: aws.String(key), Value: aws.String(value)}
	}
	return []types.Tag{
		tag("project", s.cfg.Project),
		tag("tracking-id", launchID),
		tag("worker-id", req.WorkerID),
		tag("skill", req.Skill),
	}
}

func assignPublicIP(enabled bool) types.AssignPublicIp {
	if enabled {
		return types.AssignPublicIpEnabled
	}
	return types.AssignPublicIpDisabled
}
