package domain

// SyncState is the queue-level state of the sync engine.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncPaused  SyncState = "paused"
	SyncFailed  SyncState = "failed" // residual tasks remain after a drained pass
)

// SyncProgress is emitted by the sync engine after every queue mutation.
type SyncProgress struct {
	State     SyncState `json:"state"`
	Pending   int       `json:"pending"`
	InFlight  int       `json:"inFlight"`
	Abandoned int       `json:"abandoned"` // tasks given up during the current/last pass
	LastError string    `json:"lastError,omitempty"`
}

// DownloadState is the per-region download state.
type DownloadState string

const (
	DownloadIdle        DownloadState = "idle"
	DownloadEstimating  DownloadState = "estimating"
	DownloadDownloading DownloadState = "downloading"
	DownloadPaused      DownloadState = "paused"
	DownloadCompleted   DownloadState = "completed"
	DownloadFailed      DownloadState = "failed"
	DownloadCanceled    DownloadState = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s DownloadState) Terminal() bool {
	return s == DownloadCompleted || s == DownloadFailed || s == DownloadCanceled
}

// OfflineDownloadProgress is a snapshot of one region download run.
type OfflineDownloadProgress struct {
	RegionID        string        `json:"regionId"`
	TotalTiles      int           `json:"totalTiles"`
	DownloadedTiles int           `json:"downloadedTiles"` // fetched + skipped
	SkippedTiles    int           `json:"skippedTiles"`
	FailedTiles     int           `json:"failedTiles"`
	TotalBytes      int64         `json:"totalBytes"`
	State           DownloadState `json:"state"`
	Error           string        `json:"error,omitempty"`
}

// Fraction returns completion in [0, 1].
func (p OfflineDownloadProgress) Fraction() float64 {
	if p.TotalTiles == 0 {
		if p.State == DownloadCompleted {
			return 1
		}
		return 0
	}
	f := float64(p.DownloadedTiles) / float64(p.TotalTiles)
	if f > 1 {
		return 1
	}
	return f
}
