package server

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"medstudy/internal/session"
	"medstudy/pkg/domain"
	"medstudy/pkg/hashing"
	"medstudy/pkg/queue"
)

// handleUploadPdfs accepts multipart uploads (field "files", repeatable).
// Each file is content-hashed: already-processed files are only re-linked to
// the uploader, new files are stored and queued for extraction. Failures are
// reported per file so one bad PDF never sinks the batch.
func (s *Server) handleUploadPdfs(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required (field: files)")
		return
	}

	results := make([]uploadResult, 0, len(files))
	for _, header := range files {
		results = append(results, s.processUpload(r, sess.UserID, header))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) processUpload(r *http.Request, userID string, header *multipart.FileHeader) uploadResult {
	result := uploadResult{Filename: header.Filename}
	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		result.Error = "only PDF files are supported"
		return result
	}
	file, err := header.Open()
	if err != nil {
		result.Error = "could not read file"
		return result
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		result.Error = "could not read file"
		return result
	}
	if len(data) == 0 {
		result.Error = "file is empty"
		return result
	}

	fileHash := hashing.Sum(data)
	result.FileHash = fileHash

	existence, err := s.store.FileExists(fileHash)
	if err != nil {
		result.Error = "storage lookup failed"
		return result
	}
	if existence.Exists {
		if err := s.store.LinkFileToUser(userID, fileHash); err != nil {
			result.Error = "could not link existing file"
			return result
		}
		result.Status = "exists"
		return result
	}

	storagePath := fileHash + ".pdf"
	if err := s.blobs.Put(r.Context(), storagePath, data, "application/pdf"); err != nil {
		result.Error = "could not store file"
		return result
	}
	if err := s.store.SaveFile(domain.FileRecord{
		FileHash:    fileHash,
		Filename:    header.Filename,
		Bucket:      s.bucket,
		StoragePath: storagePath,
	}); err != nil {
		result.Error = "could not save file record"
		return result
	}
	job, err := s.jobs.Enqueue(r.Context(), queue.JobPayload{
		FileHash: fileHash,
		UserID:   userID,
		Filename: header.Filename,
	})
	if err != nil {
		result.Error = "could not queue file for processing"
		return result
	}
	_ = s.tasks.Update(r.Context(), userID, queue.TaskStatus{
		TaskID:   job.ID,
		Filename: header.Filename,
		Status:   queue.TaskPending,
	})
	result.Status = "queued"
	result.TaskID = job.ID
	return result
}

func (s *Server) handleGetUserPdfs(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	files, err := s.store.ListUserFiles(sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": files,
		"count": len(files),
	})
}

func (s *Server) handleRemoveUserPdfs(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req removePdfsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.FileHashes) == 0 {
		writeError(w, http.StatusBadRequest, "fileHashes is required")
		return
	}
	if err := s.store.UnlinkFilesFromUser(sess.UserID, req.FileHashes); err != nil {
		writeError(w, http.StatusInternalServerError, "could not remove files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type uploadResult struct {
	Filename string `json:"filename"`
	FileHash string `json:"fileHash,omitempty"`
	Status   string `json:"status,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type removePdfsRequest struct {
	FileHashes []string `json:"fileHashes"`
}
