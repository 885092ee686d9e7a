package server

import (
	"net/http"
	"strings"

	"medstudy/internal/session"
	"medstudy/pkg/queue"
)

func (s *Server) handleGetUserTasks(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	tasks, err := s.tasks.List(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleClearCompletedTasks(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	cleared, err := s.tasks.DeleteByStates(r.Context(), sess.UserID, queue.TaskSuccess, queue.TaskFailure)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// handleProcessingStatus reports queue-side status for one job, translated to
// the task vocabulary the client already knows.
func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/api/pdf-processing-status/")
	if taskID == "" || strings.Contains(taskID, "/") {
		http.NotFound(w, r)
		return
	}
	job, found, err := s.jobs.GetJob(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not look up task")
		return
	}
	if !found || job.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"taskId":   job.ID,
		"filename": job.Filename,
		"status":   taskStateFor(job.Status),
		"message":  job.ErrorMessage,
	})
}

func taskStateFor(queueStatus string) string {
	switch queueStatus {
	case queue.StatusQueued:
		return queue.TaskPending
	case queue.StatusProcessing:
		return queue.TaskInProgress
	case queue.StatusDone:
		return queue.TaskSuccess
	case queue.StatusFailed:
		return queue.TaskFailure
	default:
		return queue.TaskPending
	}
}
