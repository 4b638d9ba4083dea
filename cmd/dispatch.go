package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/surge-downloader/surge/internal/bt"
	"github.com/surge-downloader/surge/internal/clipboard"
	"github.com/surge-downloader/surge/internal/config"
	"github.com/surge-downloader/surge/internal/download"
	"github.com/surge-downloader/surge/internal/engine/events"
	"github.com/surge-downloader/surge/internal/engine/types"
	"github.com/surge-downloader/surge/internal/media"
	"github.com/surge-downloader/surge/internal/registry"
	"github.com/surge-downloader/surge/internal/scheduler"
	"github.com/surge-downloader/surge/internal/store"
	"github.com/surge-downloader/surge/internal/utils"
)

// surgeRegistry, surgeDB and surgeBT are the process-wide instances every
// dispatcher, the scheduler, the clipboard monitor, and the control server
// share. They are populated once by initializeEngines.
var (
	surgeRegistry *registry.Registry
	surgeDB       *sql.DB
	surgeBT       *bt.Manager
)

// initializeEngines opens the shared database, builds the registry, wires
// one dispatcher per protocol, and starts the background daemons
// (scheduler, clipboard monitor) gated by the user's settings. It must run
// before the HTTP control server starts accepting admits.
func initializeEngines(ctx context.Context) error {
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure state dirs: %w", err)
	}

	db, err := store.Shared(config.GetDBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	surgeDB = db

	settings, err := config.LoadSettings()
	if err != nil {
		utils.Debug("load settings failed, using defaults: %v", err)
		settings = config.DefaultSettings()
	}

	r := registry.New()
	surgeRegistry = r

	r.OnDispatch("http", httpDispatcher(settings))
	r.OnDispatch("media", mediaDispatcher())

	btClient := bt.NewClient(bt.Config{
		Host:     fmt.Sprintf("%s:%d", settings.Torrent.WebUIHost, settings.Torrent.WebUIPort),
		Username: settings.Torrent.WebUIUsername,
		Password: settings.Torrent.WebUIPassword,
	})
	surgeBT = bt.NewManager(btClient, r)
	r.OnDispatch("torrent", torrentDispatcher())

	go scheduler.Run(ctx, db, r)

	if settings.General.ClipboardMonitor {
		catches := make(chan any, 16)
		go clipboard.Monitor(ctx, db, catches)
		go consumeClipboardCatches(ctx, catches)
	}

	return nil
}

// consumeClipboardCatches admits every URL/magnet the clipboard monitor
// surfaces as a fresh, non-paused download under its natural protocol.
func consumeClipboardCatches(ctx context.Context, catches <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-catches:
			if !ok {
				return
			}
			caught, ok := msg.(events.AutocatchURLMsg)
			if !ok {
				continue
			}
			if _, err := admitURL(caught.URL, "", false); err != nil {
				utils.Debug("clipboard: admit %s failed: %v", caught.URL, err)
			}
		}
	}
}

// admitURL resolves the right protocol for a raw URL/magnet and admits it
// through the registry, the shared path used by the clipboard monitor and
// the /api/add_torrent endpoint.
func admitURL(rawURL, filename string, startPaused bool) (*store.Download, error) {
	protocol := "http"
	if bt.InfoHash(rawURL) != "" {
		protocol = "torrent"
	} else if looksLikeMediaURL(rawURL) {
		protocol = "media"
	}

	if filename == "" {
		filename = filepath.Base(rawURL)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		settings = config.DefaultSettings()
	}

	return surgeRegistry.Admit(surgeDB, registry.AdmitRequest{
		URL:           rawURL,
		Filename:      filename,
		Protocol:      protocol,
		StartPaused:   startPaused,
		ConfiguredDir: settings.General.DefaultDownloadDir,
	})
}

// mediaHosts are the domains the clipboard/IPC admission path routes to the
// yt-dlp extractor rather than treating as a direct file download.
var mediaHosts = []string{
	"youtube.com", "youtu.be", "vimeo.com", "twitch.tv",
	"tiktok.com", "soundcloud.com", "dailymotion.com", "twitter.com", "x.com",
}

func looksLikeMediaURL(rawURL string) bool {
	for _, host := range mediaHosts {
		if strings.Contains(rawURL, host) {
			return true
		}
	}
	return false
}

// httpDispatcher starts a direct HTTP download for an admitted row and
// reports completion/failure back through the registry.
func httpDispatcher(settings *config.Settings) registry.DispatchFunc {
	return func(d *store.Download) {
		go func() {
			progressCh := make(chan any, 16)
			cfg := &types.DownloadConfig{
				URL:        d.URL,
				OutputPath: filepath.Dir(d.FilePath),
				ID:         d.ID,
				Filename:   filepath.Base(d.FilePath),
				ProgressCh: progressCh,
				Runtime:    settings.ToRuntimeConfig(),
				DB:         surgeDB,
				UserAgent:  d.UserAgent,
				Cookies:    d.Cookies,
				IsResume:   d.Downloaded > 0,
				DestPath:   d.FilePath,
			}

			done := make(chan error, 1)
			go func() {
				defer close(progressCh)
				done <- download.TUIDownload(context.Background(), cfg)
			}()

			finishEngineRun(d.ID, progressCh, done)
		}()
	}
}

// mediaDispatcher starts a yt-dlp extraction for an admitted row.
func mediaDispatcher() registry.DispatchFunc {
	return func(d *store.Download) {
		go func() {
			progressCh := make(chan any, 16)
			cfg := &media.Config{
				ID:         d.ID,
				URL:        d.URL,
				OutputPath: d.FilePath,
				ProgressCh: progressCh,
			}

			done := make(chan error, 1)
			go func() {
				defer close(progressCh)
				done <- media.Download(context.Background(), cfg)
			}()

			finishEngineRun(d.ID, progressCh, done)
		}()
	}
}

// torrentDispatcher hands an admitted row to the BitTorrent manager. The
// manager owns its own monitor loop and reports completion/failure back
// through surgeRegistry directly (it was built with surgeRegistry as its
// Completer), so there is no progress channel to drain here.
func torrentDispatcher() registry.DispatchFunc {
	return func(d *store.Download) {
		savePath := filepath.Dir(d.FilePath)
		if err := surgeBT.Add(surgeDB, d, d.URL, savePath, false); err != nil {
			utils.Debug("torrent dispatch: add %s failed: %v", d.ID, err)
			if ferr := surgeRegistry.Fail(surgeDB, d.ID, err.Error()); ferr != nil {
				utils.Debug("torrent dispatch: mark failed %s: %v", d.ID, ferr)
			}
		}
	}
}

// finishEngineRun drains an engine's progress channel (persisting nothing
// itself -- the engines already persist through their own DB handles) and
// reports the terminal outcome to the registry once the engine goroutine
// exits.
func finishEngineRun(id string, progressCh <-chan any, done <-chan error) {
	var lastErr error
	for range progressCh {
		// Progress is already persisted by the engine via its own DB
		// handle (concurrent.ConcurrentDownloader.DB, media's own
		// store calls); this loop only needs to drain the channel so
		// the engine goroutine never blocks on a full buffer.
	}
	lastErr = <-done

	if lastErr != nil {
		if lastErr == types.ErrPaused {
			return
		}
		if err := surgeRegistry.Fail(surgeDB, id, lastErr.Error()); err != nil {
			utils.Debug("dispatch: mark failed %s: %v", id, err)
		}
		return
	}
	if err := surgeRegistry.Complete(surgeDB, id); err != nil {
		utils.Debug("dispatch: mark complete %s: %v", id, err)
	}
}
