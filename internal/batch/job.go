// Package batch drives an ordered list of generation items through a
// generator, one at a time.
package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/nguyen2715-hue/web/internal/domain"
)

// ItemKind distinguishes scene images from overlay thumbnails.
type ItemKind string

const (
	KindScene     ItemKind = "scene"
	KindThumbnail ItemKind = "thumbnail"
)

// Item is one generation request inside a batch.
type Item struct {
	ID      string                   `json:"id"`
	Kind    ItemKind                 `json:"kind"`
	Index   int                      `json:"index"`
	Request domain.GenerationRequest `json:"-"`
	// OverlayText is drawn onto thumbnail items after generation.
	OverlayText string `json:"overlay_text,omitempty"`
}

// Label is the human name used in progress messages.
func (i Item) Label() string {
	if i.Kind == KindThumbnail {
		return fmt.Sprintf("thumbnail v%d", i.Index)
	}
	return fmt.Sprintf("scene %d", i.Index)
}

// ItemResult pairs an item with its image or its failure.
type ItemResult struct {
	Item       Item
	Result     domain.GenerationResult
	Err        error
	StorageKey string
}

func (r ItemResult) Succeeded() bool {
	return r.Err == nil
}

// Status of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is the per-run state: the ordered items, a cursor pointing at the next
// item to process, and results keyed by item ID. A job is safe to read
// while its pipeline is writing.
type Job struct {
	ID    string
	Items []Item

	mu         sync.RWMutex
	status     Status
	cursor     int
	results    map[string]ItemResult
	startedAt  time.Time
	finishedAt time.Time
}

// NewJob copies items into a pending job. Item IDs are made unique.
func NewJob(id string, items []Item) *Job {
	copied := make([]Item, len(items))
	copy(copied, items)
	seen := make(map[string]bool, len(copied))
	for i := range copied {
		if copied[i].ID == "" {
			copied[i].ID = fmt.Sprintf("item-%d", i+1)
		}
		// Results are keyed by ID, so a repeated ID gets a position suffix.
		if seen[copied[i].ID] {
			base := copied[i].ID
			for n := i + 1; seen[copied[i].ID]; n++ {
				copied[i].ID = fmt.Sprintf("%s#%d", base, n)
			}
		}
		seen[copied[i].ID] = true
	}
	return &Job{
		ID:      id,
		Items:   copied,
		status:  StatusPending,
		results: make(map[string]ItemResult, len(items)),
	}
}

func (j *Job) start(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusRunning
	j.startedAt = now
}

func (j *Job) record(res ItemResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[res.Item.ID] = res
	j.cursor++
}

func (j *Job) finish(status Status, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.finishedAt = now
}

// Cursor is the index of the next unprocessed item.
func (j *Job) Cursor() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cursor
}

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Result looks up the outcome of one item.
func (j *Job) Result(itemID string) (ItemResult, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	res, ok := j.results[itemID]
	return res, ok
}

// Results returns recorded outcomes in input order.
func (j *Job) Results() []ItemResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]ItemResult, 0, len(j.results))
	for _, item := range j.Items {
		if res, ok := j.results[item.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

// ItemView is the serializable state of one item.
type ItemView struct {
	ID         string   `json:"id"`
	Kind       ItemKind `json:"kind"`
	Index      int      `json:"index"`
	State      string   `json:"state"`
	Provider   string   `json:"provider,omitempty"`
	Error      string   `json:"error,omitempty"`
	StorageKey string   `json:"storage_key,omitempty"`
	ElapsedMS  int64    `json:"elapsed_ms,omitempty"`
}

// Snapshot is a point-in-time copy of a job for API responses.
type Snapshot struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Cursor     int        `json:"cursor"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Items      []ItemView `json:"items"`
}

func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := Snapshot{
		ID:         j.ID,
		Status:     j.status,
		Cursor:     j.cursor,
		Total:      len(j.Items),
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Items:      make([]ItemView, 0, len(j.Items)),
	}
	for _, item := range j.Items {
		view := ItemView{ID: item.ID, Kind: item.Kind, Index: item.Index, State: "pending"}
		if res, ok := j.results[item.ID]; ok {
			view.StorageKey = res.StorageKey
			if res.Succeeded() {
				snap.Succeeded++
				view.State = "succeeded"
				view.Provider = string(res.Result.Provider)
				view.ElapsedMS = res.Result.Elapsed.Milliseconds()
			} else {
				snap.Failed++
				view.State = "failed"
				view.Error = domain.Truncate(res.Err.Error(), 300)
			}
		}
		snap.Items = append(snap.Items, view)
	}
	return snap
}
