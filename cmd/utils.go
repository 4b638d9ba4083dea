package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/surge-downloader/surge/internal/bt"
	"github.com/surge-downloader/surge/internal/config"
	"github.com/surge-downloader/surge/internal/engine/state"
)

// initializeGlobalState prepares the config directory and database connection
// for commands that read or write download state directly, without going
// through a running server (ls, pause, resume, rm, add).
func initializeGlobalState() {
	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to set up config directory: %v\n", err)
		return
	}
	if _, err := state.GetDB(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open database: %v\n", err)
	}
}

// readActivePort reads the port from the port file
func readActivePort() int {
	portFile := filepath.Join(config.GetSurgeDir(), "port")
	data, err := os.ReadFile(portFile)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(string(data), "%d", &port)
	return port
}

// readURLsFromFile reads URLs from a file, one per line
func readURLsFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

// sendToServer sends a download request to a running surge server
func sendToServer(url, outPath string, port int) error {
	reqBody := DownloadRequest{
		URL:  url,
		Path: outPath,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d/download", port)
	resp, err := http.Post(serverURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}

	// Optional: Print response info (ID etc) if needed, but usually caller handles success msg
	// Or we can parse ID here and return it?
	// The caller (add.go/root.go) might want to know ID.
	// For now, keep it simple as error/nil.

	var respData map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&respData) // Ignore error? safely
	if id, ok := respData["id"].(string); ok {
		// Could log debug
		_ = id
	}

	return nil
}

// sendToServerAuto sniffs url the same way admitURL does and posts it to
// the matching /api endpoint, so a magnet or a known video-host link typed
// at "surge add" is admitted under its real protocol rather than treated
// as a plain HTTP download.
func sendToServerAuto(rawURL, outPath string, port int) error {
	switch {
	case bt.InfoHash(rawURL) != "":
		jsonData, err := json.Marshal(addTorrentRequest{Magnet: rawURL})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		return postJSON(port, "/api/add_torrent", jsonData)
	case looksLikeMediaURL(rawURL):
		jsonData, err := json.Marshal(addVideoDownloadRequest{URL: rawURL})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		return postJSON(port, "/api/add_video_download", jsonData)
	default:
		return sendToServer(rawURL, outPath, port)
	}
}

func postJSON(port int, path string, jsonData []byte) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}
	return nil
}

// postControlAction posts {"id": id} (plus optional extra fields) to one
// of the registry-backed control endpoints (/api/pause_download,
// /api/resume_download, /api/delete_download) and reports a non-2xx
// response as an error.
func postControlAction(port int, path, id string, extra map[string]any) error {
	body := map[string]any{"id": id}
	for k, v := range extra {
		body[k] = v
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return postJSON(port, path, jsonData)
}

// resolveDownloadID resolves a partial ID (prefix) to a full download ID.
// If the input is a prefix of exactly one download's ID, returns that full ID.
// Returns the original ID if no match found or if it's already a full ID.
func resolveDownloadID(partialID string) (string, error) {
	if len(partialID) >= 32 {
		return partialID, nil // Already a full UUID
	}

	// Get all downloads from database
	downloads, err := state.ListAllDownloads()
	if err != nil {
		return partialID, nil // Fall through to use as-is
	}

	var matches []string
	for _, d := range downloads {
		if strings.HasPrefix(d.ID, partialID) {
			matches = append(matches, d.ID)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d downloads", partialID, len(matches))
	}

	return partialID, nil // No match, use as-is (will fail with "not found" later)
}
