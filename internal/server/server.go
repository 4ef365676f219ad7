package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"

	"resoluta-leech/internal/config"
	"resoluta-leech/internal/downloader"
	"resoluta-leech/internal/history"
	"resoluta-leech/internal/storage"
	"resoluta-leech/internal/task"
)

type Server struct {
	addr        string
	manager     *task.Manager
	hist        *history.Store // may be nil
	downloadDir string
}

func New(manager *task.Manager, hist *history.Store) *Server {
	return &Server{
		addr:        fmt.Sprintf(":%d", config.GlobalConfig.Port),
		manager:     manager,
		hist:        hist,
		downloadDir: config.GlobalConfig.DownloadDir,
	}
}

// Handler builds the API mux. Split from Start so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static Files (Web UI)
	mux.Handle("/", http.FileServer(http.Dir("./web")))

	// Download lifecycle
	mux.HandleFunc("POST /api/downloads", s.handleAdd)
	mux.HandleFunc("GET /api/downloads", s.handleList)
	mux.HandleFunc("GET /api/downloads/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/downloads/{id}/cancel", s.handleCancel)
	mux.HandleFunc("DELETE /api/downloads/{id}", s.handleRemove)

	// Downloaded artifacts
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("DELETE /api/files/{name}", s.handleDeleteFile)
	mux.HandleFunc("GET /files/{name}", s.handleServeFile)

	// System
	mux.HandleFunc("GET /api/system", s.handleSystem)
	mux.HandleFunc("GET /api/hosts", s.handleHosts)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	return mux
}

func (s *Server) Start() error {
	log.Printf("Server starting at http://localhost%s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

type addRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req addRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	t, err := s.manager.Add(req.URL, task.Options{Filename: req.Filename})
	if err != nil {
		if errors.Is(err, downloader.ErrInvalidSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": t.ID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "download not found")
	case errors.Is(err, task.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, "download already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Remove(r.PathValue("id"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "download not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := storage.ListFiles(s.downloadDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := storage.DeleteFile(s.downloadDir, r.PathValue("name")); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	p, err := storage.FilePath(s.downloadDir, r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, p)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	disk, err := storage.Disk(s.downloadDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"disk": map[string]any{
			"total":           disk.Total,
			"used":            disk.Used,
			"free":            disk.Free,
			"total_formatted": humanize.IBytes(disk.Total),
			"used_formatted":  humanize.IBytes(disk.Used),
			"free_formatted":  humanize.IBytes(disk.Free),
		},
		"download_dir":     s.downloadDir,
		"active_downloads": s.manager.ActiveCount(),
		"megadl_available": s.manager.HelperAvailable(),
	})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Hosts())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.Record{})
		return
	}
	records, err := s.hist.List(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
