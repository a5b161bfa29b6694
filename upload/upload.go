// Package upload tracks in-flight media attachment uploads: policy
// validation before any network call, monotonic progress reporting, and
// cancellation. Each composed message owns at most one upload task, keyed by
// the message's local correlation id.
package upload

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/whisper/messenger-sdk/chat"
	"github.com/whisper/messenger-sdk/metrics"
)

// Policy is the attachment acceptance policy checked before upload.
type Policy struct {
	MaxBytes     int64
	AllowedTypes []string // MIME type allow-list
}

// DefaultPolicy returns the default attachment policy: 25 MiB, common image
// formats plus PDF and plain text.
func DefaultPolicy() Policy {
	return Policy{
		MaxBytes: 25 << 20,
		AllowedTypes: []string{
			"image/jpeg", "image/png", "image/gif", "image/webp",
			"application/pdf", "text/plain",
		},
	}
}

// Validate checks a file against the policy. Violations come back as typed
// validation errors so callers surface them immediately with no retry.
func (p Policy) Validate(name, mimeType string, size int64) error {
	if name == "" {
		return &chat.ValidationError{Field: "file name", Reason: "must not be empty"}
	}
	if size <= 0 {
		return &chat.ValidationError{Field: "file size", Reason: "must be positive"}
	}
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return &chat.ValidationError{
			Field:  "file size",
			Reason: fmt.Sprintf("%d bytes exceeds limit of %d", size, p.MaxBytes),
		}
	}
	for _, t := range p.AllowedTypes {
		if t == mimeType {
			return nil
		}
	}
	return &chat.ValidationError{
		Field:  "file type",
		Reason: fmt.Sprintf("%q is not allowed", mimeType),
	}
}

// TaskStatus is the lifecycle state of one upload task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskUploading TaskStatus = "uploading"
	TaskDone      TaskStatus = "done"
	TaskError     TaskStatus = "error"
)

// Task is a point-in-time snapshot of an upload's state.
type Task struct {
	LocalID  string
	Name     string
	MimeType string
	Size     int64
	Progress int // 0-100, monotonically increasing
	Status   TaskStatus
	Err      error
}

// File describes the attachment to upload.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// Uploader performs the actual network transfer. *rest.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, size int64, r io.Reader, progress func(pct int)) (*chat.MediaRef, error)
}

// Coordinator tracks the progress of in-flight attachment uploads, one per
// composed message.
type Coordinator struct {
	policy   Policy
	uploader Uploader

	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	snapshot Task
	cancel   context.CancelFunc
}

// NewCoordinator creates a Coordinator with the given policy and uploader.
func NewCoordinator(policy Policy, uploader Uploader) *Coordinator {
	return &Coordinator{
		policy:   policy,
		uploader: uploader,
		tasks:    make(map[string]*taskState),
	}
}

// Start validates the file and, if it passes, uploads it. The call blocks
// until the upload completes, fails, or is cancelled; progress is observable
// concurrently through Task. On success the returned media reference is
// attached to the pending message send and can be reused by retries without
// re-uploading.
func (c *Coordinator) Start(ctx context.Context, localID string, f File) (*chat.MediaRef, error) {
	if err := c.policy.Validate(f.Name, f.MimeType, f.Size); err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if _, exists := c.tasks[localID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("upload: task %s already exists", localID)
	}
	c.tasks[localID] = &taskState{
		snapshot: Task{
			LocalID:  localID,
			Name:     f.Name,
			MimeType: f.MimeType,
			Size:     f.Size,
			Status:   TaskPending,
		},
		cancel: cancel,
	}
	c.mu.Unlock()

	c.setStatus(localID, TaskUploading, nil)

	ref, err := c.uploader.Upload(taskCtx, f.Name, f.MimeType, f.Size, f.Reader, func(pct int) {
		c.setProgress(localID, pct)
	})
	if err != nil {
		if taskCtx.Err() != nil {
			// Cancelled by the caller: discard the task entirely, no
			// residual state.
			c.Forget(localID)
			return nil, fmt.Errorf("upload: cancelled: %w", taskCtx.Err())
		}
		c.setStatus(localID, TaskError, err)
		return nil, err
	}

	c.setProgress(localID, 100)
	c.setStatus(localID, TaskDone, nil)
	metrics.UploadBytes.Add(float64(f.Size))
	return ref, nil
}

// Cancel aborts an in-flight upload. Returns true if a pending or uploading
// task was cancelled; completed and failed tasks are untouched.
func (c *Coordinator) Cancel(localID string) bool {
	c.mu.Lock()
	t, ok := c.tasks[localID]
	var cancel context.CancelFunc
	if ok && (t.snapshot.Status == TaskPending || t.snapshot.Status == TaskUploading) {
		cancel = t.cancel
	}
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Task returns a snapshot of the identified upload.
func (c *Coordinator) Task(localID string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[localID]
	if !ok {
		return Task{}, false
	}
	return t.snapshot, true
}

// Forget drops a task's record. Called once the owning message has finished
// sending (success or permanent failure) or was discarded before send.
func (c *Coordinator) Forget(localID string) {
	c.mu.Lock()
	delete(c.tasks, localID)
	c.mu.Unlock()
}

func (c *Coordinator) setStatus(localID string, status TaskStatus, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[localID]
	if !ok {
		return
	}
	t.snapshot.Status = status
	t.snapshot.Err = err
}

func (c *Coordinator) setProgress(localID string, pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[localID]
	if !ok {
		return
	}
	if pct > t.snapshot.Progress {
		t.snapshot.Progress = pct
	}
}
