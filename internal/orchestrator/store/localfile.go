package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
)

// LocalFileStore is a reference Store implementation backed by one JSON
// file per collection under a directory, guarded by a single mutex. It
// favors simplicity over throughput; production deployments are expected
// to supply their own Store.
type LocalFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewLocalFileStore builds a LocalFileStore rooted at dir, creating it if
// it does not already exist.
func NewLocalFileStore(dir string) (*LocalFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, orcherr.Fatal("create store directory", err)
	}
	return &LocalFileStore{dir: dir}, nil
}

func (s *LocalFileStore) path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func loadCollection[T any](s *LocalFileStore, collection string) (map[string]T, error) {
	out := make(map[string]T)
	data, err := os.ReadFile(s.path(collection))
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, orcherr.Fatal("read "+collection, err)
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, orcherr.Fatal("parse "+collection, err)
	}
	return out, nil
}

func saveCollection[T any](s *LocalFileStore, collection string, items map[string]T) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return orcherr.Fatal("encode "+collection, err)
	}
	tmp := s.path(collection) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return orcherr.Fatal("write "+collection, err)
	}
	return os.Rename(tmp, s.path(collection))
}

// GetRobots returns every stored robot.
func (s *LocalFileStore) GetRobots(ctx context.Context) ([]*model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Robot](s, "robots")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Robot, 0, len(items))
	for _, r := range items {
		out = append(out, r)
	}
	return out, nil
}

// GetRobot returns one robot, or a NotFound error if unknown.
func (s *LocalFileStore) GetRobot(ctx context.Context, robotID string) (*model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Robot](s, "robots")
	if err != nil {
		return nil, err
	}
	r, ok := items[robotID]
	if !ok {
		return nil, orcherr.Business(orcherr.CodeNotFound, "robot not found").WithDetail("robot_id", robotID)
	}
	return r, nil
}

// SaveRobot upserts a robot record.
func (s *LocalFileStore) SaveRobot(ctx context.Context, robot *model.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Robot](s, "robots")
	if err != nil {
		return err
	}
	items[robot.ID] = robot
	return saveCollection(s, "robots", items)
}

// DeleteRobot removes a robot record.
func (s *LocalFileStore) DeleteRobot(ctx context.Context, robotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Robot](s, "robots")
	if err != nil {
		return err
	}
	delete(items, robotID)
	return saveCollection(s, "robots", items)
}

// GetJobs returns up to limit stored jobs (0 means unlimited).
func (s *LocalFileStore) GetJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Job](s, "jobs")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(items))
	for _, j := range items {
		out = append(out, j)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetJob returns one job, or a NotFound error if unknown.
func (s *LocalFileStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Job](s, "jobs")
	if err != nil {
		return nil, err
	}
	j, ok := items[jobID]
	if !ok {
		return nil, orcherr.Business(orcherr.CodeNotFound, "job not found").WithDetail("job_id", jobID)
	}
	return j, nil
}

// SaveJob upserts a job record.
func (s *LocalFileStore) SaveJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Job](s, "jobs")
	if err != nil {
		return err
	}
	items[job.ID] = job
	return saveCollection(s, "jobs", items)
}

// DeleteJob removes a job record.
func (s *LocalFileStore) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Job](s, "jobs")
	if err != nil {
		return err
	}
	delete(items, jobID)
	return saveCollection(s, "jobs", items)
}

// GetWorkflows returns every stored workflow.
func (s *LocalFileStore) GetWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Workflow](s, "workflows")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Workflow, 0, len(items))
	for _, w := range items {
		out = append(out, w)
	}
	return out, nil
}

// GetWorkflow returns one workflow, or a NotFound error if unknown.
func (s *LocalFileStore) GetWorkflow(ctx context.Context, workflowID string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Workflow](s, "workflows")
	if err != nil {
		return nil, err
	}
	w, ok := items[workflowID]
	if !ok {
		return nil, orcherr.Business(orcherr.CodeNotFound, "workflow not found").WithDetail("workflow_id", workflowID)
	}
	return w, nil
}

// SaveWorkflow upserts a workflow record.
func (s *LocalFileStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Workflow](s, "workflows")
	if err != nil {
		return err
	}
	items[wf.ID] = wf
	return saveCollection(s, "workflows", items)
}

// DeleteWorkflow removes a workflow record.
func (s *LocalFileStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Workflow](s, "workflows")
	if err != nil {
		return err
	}
	delete(items, workflowID)
	return saveCollection(s, "workflows", items)
}

// GetSchedules returns every stored schedule.
func (s *LocalFileStore) GetSchedules(ctx context.Context) ([]*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Schedule](s, "schedules")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Schedule, 0, len(items))
	for _, sc := range items {
		out = append(out, sc)
	}
	return out, nil
}

// GetSchedule returns one schedule, or a NotFound error if unknown.
func (s *LocalFileStore) GetSchedule(ctx context.Context, scheduleID string) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Schedule](s, "schedules")
	if err != nil {
		return nil, err
	}
	sc, ok := items[scheduleID]
	if !ok {
		return nil, orcherr.Business(orcherr.CodeNotFound, "schedule not found").WithDetail("schedule_id", scheduleID)
	}
	return sc, nil
}

// SaveSchedule upserts a schedule record.
func (s *LocalFileStore) SaveSchedule(ctx context.Context, sch *model.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Schedule](s, "schedules")
	if err != nil {
		return err
	}
	items[sch.ID] = sch
	return saveCollection(s, "schedules", items)
}

// DeleteSchedule removes a schedule record.
func (s *LocalFileStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := loadCollection[*model.Schedule](s, "schedules")
	if err != nil {
		return err
	}
	delete(items, scheduleID)
	return saveCollection(s, "schedules", items)
}
