package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"

	"torrentdrive/internal/domain"
)

// Config controls the torrent engine.
type Config struct {
	DataDir     string
	TrackerList []string
	Logger      *logrus.Logger
}

// TorrentEngine drives downloads through an anacrolix/torrent client, keyed
// by job id. Handles are transient; the job store remains the durable record.
type TorrentEngine struct {
	cfg    Config
	client *torrent.Client

	mu      sync.Mutex
	handles map[string]*handle
}

type handle struct {
	torrent  *torrent.Torrent
	selected []int

	lastBytes    int64
	lastUploaded int64
	lastTime     time.Time
}

func NewTorrentEngine(cfg Config) (*TorrentEngine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.NoUpload = false
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	cfg.Logger.Infof("torrent engine started, data dir: %s", cfg.DataDir)
	return &TorrentEngine{
		cfg:     cfg,
		client:  client,
		handles: make(map[string]*handle),
	}, nil
}

func (e *TorrentEngine) Close() {
	e.mu.Lock()
	e.handles = make(map[string]*handle)
	e.mu.Unlock()
	e.client.Close()
	e.cfg.Logger.Info("torrent engine stopped")
}

func (e *TorrentEngine) FetchMetadata(ctx context.Context, magnetURI string, timeout time.Duration) (*domain.Metadata, error) {
	t, err := e.client.AddMagnet(magnetURI)
	if err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	e.addTrackers(t)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		t.Drop()
		return nil, ctx.Err()
	case <-timer.C:
		t.Drop()
		return nil, domain.ErrMetadataTimeout
	case <-t.GotInfo():
	}

	meta := metadataFromTorrent(t)
	// metadata probe only, release the handle until a download is requested
	t.Drop()
	return meta, nil
}

func (e *TorrentEngine) Begin(ctx context.Context, jobID, magnetURI string, fileIndices []int) error {
	t, err := e.client.AddMagnet(magnetURI)
	if err != nil {
		return fmt.Errorf("add magnet: %w", err)
	}
	e.addTrackers(t)

	select {
	case <-ctx.Done():
		t.Drop()
		return ctx.Err()
	case <-t.GotInfo():
	}

	// a re-Begin after pause gets the existing torrent back from the client
	t.AllowDataDownload()

	files := t.Files()
	if fileIndices == nil {
		t.DownloadAll()
	} else {
		wanted := make(map[int]struct{}, len(fileIndices))
		for _, i := range fileIndices {
			wanted[i] = struct{}{}
		}
		for i, file := range files {
			if _, ok := wanted[i]; ok {
				file.SetPriority(torrent.PiecePriorityNormal)
			} else {
				file.SetPriority(torrent.PiecePriorityNone)
			}
		}
	}

	e.mu.Lock()
	e.handles[jobID] = &handle{
		torrent:  t,
		selected: fileIndices,
		lastTime: time.Now(),
	}
	e.mu.Unlock()

	e.cfg.Logger.WithField("job_id", jobID).Infof("torrent added: %s", t.InfoHash().HexString())
	return nil
}

func (e *TorrentEngine) Status(jobID string) (*domain.Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.handles[jobID]
	if !ok || h.torrent.Info() == nil {
		return nil, false
	}

	t := h.torrent
	done, total := h.wantedBytes()

	percent := float64(0)
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}

	stats := t.Stats()
	uploaded := stats.BytesWrittenData.Int64()

	now := time.Now()
	elapsed := now.Sub(h.lastTime).Seconds()
	rate := int64(0)
	uploadRate := int64(0)
	if elapsed > 0 {
		rate = int64(float64(done-h.lastBytes) / elapsed)
		uploadRate = int64(float64(uploaded-h.lastUploaded) / elapsed)
	}
	h.lastBytes = done
	h.lastUploaded = uploaded
	h.lastTime = now

	progress := &domain.Progress{
		JobID:        jobID,
		State:        domain.StateDownloading,
		Percent:      percent,
		DownloadRate: rate,
		UploadRate:   uploadRate,
		Peers:        stats.TotalPeers,
		Seeds:        stats.ConnectedSeeders,
		BytesDone:    done,
		BytesTotal:   total,
	}
	if rate > 0 && total > done {
		eta := (total - done) / rate
		progress.ETASeconds = &eta
	}
	return progress, true
}

func (e *TorrentEngine) IsComplete(jobID string) bool {
	e.mu.Lock()
	h, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok || h.torrent.Info() == nil {
		return false
	}
	done, total := h.wantedBytes()
	return total > 0 && done >= total
}

func (e *TorrentEngine) Pause(jobID string) bool {
	e.mu.Lock()
	h, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	h.torrent.DisallowDataDownload()
	e.cfg.Logger.WithField("job_id", jobID).Info("torrent paused")
	return true
}

func (e *TorrentEngine) Resume(jobID string) bool {
	e.mu.Lock()
	h, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	h.torrent.AllowDataDownload()
	e.cfg.Logger.WithField("job_id", jobID).Info("torrent resumed")
	return true
}

func (e *TorrentEngine) Remove(jobID string, deleteFiles bool) bool {
	e.mu.Lock()
	h, ok := e.handles[jobID]
	if ok {
		delete(e.handles, jobID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	var localPath string
	if info := h.torrent.Info(); info != nil {
		localPath = filepath.Join(e.cfg.DataDir, info.BestName())
	}
	h.torrent.Drop()

	if deleteFiles && localPath != "" {
		if err := os.RemoveAll(localPath); err != nil && !os.IsNotExist(err) {
			e.cfg.Logger.WithField("job_id", jobID).Warnf("remove local data: %v", err)
		}
	}
	e.cfg.Logger.WithField("job_id", jobID).Info("torrent removed")
	return true
}

func (e *TorrentEngine) ArtifactPath(jobID string) string {
	e.mu.Lock()
	h, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return ""
	}
	info := h.torrent.Info()
	if info == nil {
		return ""
	}
	return filepath.Join(e.cfg.DataDir, info.BestName())
}

func (e *TorrentEngine) addTrackers(t *torrent.Torrent) {
	for _, tracker := range e.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}
}

// wantedBytes returns completed and total byte counts restricted to the
// job's file selection.
func (h *handle) wantedBytes() (done, total int64) {
	t := h.torrent
	if h.selected == nil {
		return t.BytesCompleted(), t.Length()
	}

	files := t.Files()
	for _, i := range h.selected {
		if i < 0 || i >= len(files) {
			continue
		}
		done += files[i].BytesCompleted()
		total += files[i].Length()
	}
	return done, total
}

func metadataFromTorrent(t *torrent.Torrent) *domain.Metadata {
	info := t.Info()
	files := t.Files()

	meta := &domain.Metadata{
		Name:      info.BestName(),
		TotalSize: info.TotalLength(),
		NumFiles:  len(files),
		Files:     make([]domain.FileInfo, len(files)),
		InfoHash:  t.InfoHash().HexString(),
	}
	for i, file := range files {
		meta.Files[i] = domain.FileInfo{
			Index: i,
			Path:  file.Path(),
			Size:  file.Length(),
		}
	}
	mi := t.Metainfo()
	for _, tier := range mi.AnnounceList {
		meta.Trackers = append(meta.Trackers, tier...)
	}
	return meta
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Engine = (*TorrentEngine)(nil)
