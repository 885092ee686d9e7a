package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task states shown to users. These are coarser than the queue's internal
// lifecycle: the queue retries silently, the task list only reports the
// outcome the user cares about.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN PROGRESS"
	TaskSuccess    = "SUCCESS"
	TaskFailure    = "FAILURE"
)

// TaskStatus is one entry in a user's task list.
type TaskStatus struct {
	TaskID    string    `json:"taskId"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskStatusStore keeps a per-user hash of task statuses in Redis so the UI
// can poll upload progress without touching the queue internals. Entries
// expire as a whole per user after the TTL.
type TaskStatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTaskStatusStore(client *redis.Client, ttl time.Duration) *TaskStatusStore {
	if ttl <= 0 {
		ttl = 36 * time.Hour
	}
	return &TaskStatusStore{client: client, ttl: ttl}
}

func (s *TaskStatusStore) key(userID string) string {
	return fmt.Sprintf("tasks:%s", userID)
}

// Update writes one task entry and refreshes the per-user TTL.
func (s *TaskStatusStore) Update(ctx context.Context, userID string, task TaskStatus) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("userId required")
	}
	if strings.TrimSpace(task.TaskID) == "" {
		return fmt.Errorf("taskId required")
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	key := s.key(userID)
	if err := s.client.HSet(ctx, key, task.TaskID, data).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// List returns a user's tasks, most recently updated first.
func (s *TaskStatusStore) List(ctx context.Context, userID string) ([]TaskStatus, error) {
	entries, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]TaskStatus, 0, len(entries))
	for _, raw := range entries {
		var task TaskStatus
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
	return tasks, nil
}

// DeleteByStates removes a user's tasks whose status matches any of the given
// states. Returns the number of entries removed.
func (s *TaskStatusStore) DeleteByStates(ctx context.Context, userID string, states ...string) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}
	wanted := make(map[string]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	key := s.key(userID)
	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	var fields []string
	for field, raw := range entries {
		var task TaskStatus
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			fields = append(fields, field)
			continue
		}
		if wanted[task.Status] {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	removed, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}
