package cmd

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/atotto/clipboard"

	"github.com/surge-downloader/surge/internal/config"
	"github.com/surge-downloader/surge/internal/media"
	"github.com/surge-downloader/surge/internal/registry"
	"github.com/surge-downloader/surge/internal/store"
)

// registerAPIRoutes wires the multi-protocol registry surface onto mux,
// alongside the legacy single-protocol /download endpoint.
func registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/add_torrent", handleAddTorrent)
	mux.HandleFunc("/api/analyze_torrent", handleAnalyzeTorrent)
	mux.HandleFunc("/api/add_video_download", handleAddVideoDownload)
	mux.HandleFunc("/api/analyze_video_url", handleAnalyzeVideoURL)
	mux.HandleFunc("/api/start_selective_torrent", handleStartSelectiveTorrent)
	mux.HandleFunc("/api/pause_download", handlePauseDownload)
	mux.HandleFunc("/api/resume_download", handleResumeDownload)
	mux.HandleFunc("/api/delete_download", handleDeleteDownload)
	mux.HandleFunc("/api/get_history", handleGetHistory)
	mux.HandleFunc("/api/get_settings", handleGetSettings)
	mux.HandleFunc("/api/update_setting", handleUpdateSetting)
	mux.HandleFunc("/api/show_in_folder", handleShowInFolder)
	mux.HandleFunc("/api/get_clipboard", handleGetClipboard)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type addTorrentRequest struct {
	Magnet      string `json:"magnet"`
	Filename    string `json:"filename"`
	OutputPath  string `json:"output_path"`
	StartPaused bool   `json:"start_paused"`
}

func handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req addTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if req.Magnet == "" {
		writeError(w, http.StatusBadRequest, errString("magnet is required"))
		return
	}
	d, err := admitURL(req.Magnet, req.Filename, req.StartPaused)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type analyzeTorrentRequest struct {
	Magnet string `json:"magnet"`
}

func handleAnalyzeTorrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req analyzeTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	result, err := surgeBT.Analyze(req.Magnet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type addVideoDownloadRequest struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	StartPaused bool   `json:"start_paused"`
}

func handleAddVideoDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req addVideoDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errString("url is required"))
		return
	}
	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.URL)
	}
	settings, err := config.LoadSettings()
	if err != nil {
		settings = config.DefaultSettings()
	}
	d, err := surgeRegistry.Admit(surgeDB, registry.AdmitRequest{
		URL:           req.URL,
		Filename:      filename,
		Protocol:      "media",
		StartPaused:   req.StartPaused,
		ConfiguredDir: settings.General.DefaultDownloadDir,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type analyzeVideoURLRequest struct {
	URL string `json:"url"`
}

func handleAnalyzeVideoURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req analyzeVideoURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	meta, err := media.AnalyzeVideoURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type startSelectiveTorrentRequest struct {
	ID    string `json:"id"`
	Files []int  `json:"files"`
}

func handleStartSelectiveTorrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startSelectiveTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if req.ID == "" || len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, errString("id and files are required"))
		return
	}
	d, err := store.GetDownload(surgeDB, req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, errString("download not found"))
		return
	}
	if d.Status != "paused" && d.Status != "queued" {
		writeError(w, http.StatusConflict, errString("download already started"))
		return
	}
	savePath := filepath.Dir(d.FilePath)
	if err := surgeBT.AddSelective(surgeDB, d, d.URL, savePath, req.Files); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := store.UpdateStatus(surgeDB, req.ID, "downloading"); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type idRequest struct {
	ID          string `json:"id"`
	DeleteFiles bool   `json:"delete_files"`
}

func handlePauseDownload(w http.ResponseWriter, r *http.Request) {
	withDownloadID(w, r, func(id string) error {
		return surgeRegistry.Pause(surgeDB, id)
	})
}

func handleResumeDownload(w http.ResponseWriter, r *http.Request) {
	withDownloadID(w, r, func(id string) error {
		return surgeRegistry.Resume(surgeDB, id)
	})
}

func handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	d, err := store.GetDownload(surgeDB, req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if d != nil && d.Protocol == "torrent" {
		if err := surgeBT.Delete(req.ID, req.DeleteFiles); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if err := surgeRegistry.Delete(surgeDB, req.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func withDownloadID(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if err := fn(req.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleGetHistory(w http.ResponseWriter, r *http.Request) {
	downloads, err := store.ListDownloads(surgeDB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, downloads)
}

func handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := config.LoadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": settings,
		"metadata": config.GetSettingsMetadata(),
	})
}

type updateSettingRequest struct {
	Settings config.Settings `json:"settings"`
}

func handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if err := config.SaveSettings(&req.Settings); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type showInFolderRequest struct {
	Path string `json:"path"`
}

func handleShowInFolder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req showInFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errString("path is required"))
		return
	}
	if err := registry.ShowInFolder(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleGetClipboard(w http.ResponseWriter, r *http.Request) {
	text, err := clipboard.ReadAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type errString string

func (e errString) Error() string { return string(e) }
