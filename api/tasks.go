package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/medialib/core/queue"
)

// ongoingListLimit caps the short summary endpoint.
const ongoingListLimit = 10

type createTaskRequest struct {
	Type      string            `json:"type"`
	Items     []json.RawMessage `json:"items"`
	Meta      map[string]any    `json:"meta,omitempty"`
	CreatedBy string            `json:"created_by,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		s.respondDetail(w, http.StatusBadRequest, "type is required")
		return
	}

	task, err := s.svc.CreateTask(r.Context(), queue.TaskDraft{
		Type:      req.Type,
		CreatedBy: req.CreatedBy,
		Meta:      req.Meta,
		Payloads:  req.Items,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondDetail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := s.svc.ListTasks(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.taskViews(r.Context(), tasks))
}

func (s *Server) listOngoing(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.ListTasks(r.Context(), ongoingListLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.taskViews(r.Context(), tasks))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondDetail(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.svc.GetTask(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.taskView(r.Context(), task))
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondDetail(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.svc.CancelTask(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

func (s *Server) clearTasks(w http.ResponseWriter, r *http.Request) {
	scope, err := queue.ParsePurgeScope(r.URL.Query().Get("scope"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var olderThan time.Duration
	if raw := r.URL.Query().Get("older_than_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			s.respondDetail(w, http.StatusBadRequest, "invalid older_than_seconds")
			return
		}
		olderThan = time.Duration(secs) * time.Second
	}

	res, err := s.svc.PurgeTasks(r.Context(), scope, olderThan)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// taskView decorates a task with library context: items referencing an
// episode carry a human label and the show title, and tasks whose meta
// names a show carry a preview so list rows can render without a second
// request. Enrichment is best-effort; lookup failures leave fields empty.
type taskView struct {
	*queue.Task
	Items       []itemView     `json:"items,omitempty"`
	MetaPreview map[string]any `json:"meta_preview,omitempty"`
}

type itemView struct {
	queue.Item
	EpisodeLabel string `json:"episode_label,omitempty"`
	ShowTitle    string `json:"show_title,omitempty"`
}

// itemRef is the subset of an item payload the enrichment cares about.
type itemRef struct {
	EpisodeID int64 `json:"episode_id"`
}

func (s *Server) taskViews(ctx context.Context, tasks []*queue.Task) []taskView {
	views := make([]taskView, len(tasks))
	for i, task := range tasks {
		views[i] = s.taskView(ctx, task)
	}
	return views
}

func (s *Server) taskView(ctx context.Context, task *queue.Task) taskView {
	v := taskView{Task: task}

	if len(task.Items) > 0 {
		v.Items = make([]itemView, len(task.Items))
		showTitles := make(map[int64]string)
		for i, item := range task.Items {
			v.Items[i] = s.itemView(ctx, item, showTitles)
		}
	}

	if showID := metaShowID(task.Meta); showID != 0 && s.lib != nil {
		if show, err := s.lib.GetShow(ctx, showID); err == nil {
			v.MetaPreview = map[string]any{"show_title": show.Title}
		}
	}
	return v
}

func (s *Server) itemView(ctx context.Context, item queue.Item, showTitles map[int64]string) itemView {
	v := itemView{Item: item}
	if s.lib == nil || len(item.Payload) == 0 {
		return v
	}

	var ref itemRef
	if err := json.Unmarshal(item.Payload, &ref); err != nil || ref.EpisodeID == 0 {
		return v
	}
	ep, err := s.lib.GetEpisode(ctx, ref.EpisodeID)
	if err != nil {
		return v
	}

	v.EpisodeLabel = fmt.Sprintf("S%dE%d", ep.SeasonNumber, ep.EpisodeNumber)
	if ep.Title != "" {
		v.EpisodeLabel += " · " + ep.Title
	}

	title, ok := showTitles[ep.ShowID]
	if !ok {
		if show, err := s.lib.GetShow(ctx, ep.ShowID); err == nil {
			title = show.Title
		}
		showTitles[ep.ShowID] = title
	}
	v.ShowTitle = title
	return v
}

// metaShowID extracts a show id from task meta. JSON decoding delivers
// numbers as float64; stores may hand back int64.
func metaShowID(meta map[string]any) int64 {
	if meta == nil {
		return 0
	}
	switch n := meta["show_id"].(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
