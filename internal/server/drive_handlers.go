package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/drivemind-app/drivemind/internal/drive"
	jsonwriter "github.com/drivemind-app/drivemind/internal/json"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/proposal"
)

// DriveHandlers serves scan and proposal requests for connected users
type DriveHandlers struct {
	crawler  drive.Crawler
	proposer proposal.Proposer
}

func NewDriveHandlers(crawler drive.Crawler, proposer proposal.Proposer) *DriveHandlers {
	return &DriveHandlers{crawler: crawler, proposer: proposer}
}

type scanFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

type scanResponse struct {
	Files []scanFile `json:"files"`
	Count int        `json:"count"`
}

type proposalsResponse struct {
	Proposals []proposal.Proposal `json:"proposals"`
	Count     int                 `json:"count"`
}

// ScanHandler lists the user's Drive file metadata
func (h *DriveHandlers) ScanHandler(w http.ResponseWriter, r *http.Request) {
	files, ok := h.scan(w, r)
	if !ok {
		return
	}

	out := make([]scanFile, 0, len(files))
	for _, f := range files {
		out = append(out, scanFile{
			ID:           f.ID,
			Name:         f.Name,
			MimeType:     f.MimeType,
			Size:         f.Size,
			ModifiedTime: f.ModifiedTime,
		})
	}

	_ = jsonwriter.Write(w, scanResponse{Files: out, Count: len(out)})
}

// ProposalsHandler runs the cleanup rules over a fresh scan
func (h *DriveHandlers) ProposalsHandler(w http.ResponseWriter, r *http.Request) {
	files, ok := h.scan(w, r)
	if !ok {
		return
	}

	proposals := h.proposer.Propose(files, time.Now())
	if proposals == nil {
		proposals = []proposal.Proposal{}
	}

	_ = jsonwriter.Write(w, proposalsResponse{Proposals: proposals, Count: len(proposals)})
}

func (h *DriveHandlers) scan(w http.ResponseWriter, r *http.Request) ([]drive.FileInfo, bool) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET")
		return nil, false
	}

	userID := r.URL.Query().Get("userId")
	files, err := h.crawler.Scan(r.Context(), userID)
	if err != nil {
		if errors.Is(err, drive.ErrNotConnected) {
			jsonwriter.WriteError(w, http.StatusForbidden, "not_connected", "Google Drive is not connected")
			return nil, false
		}
		log.LogErrorWithFields("drive", "Scan failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteError(w, http.StatusBadGateway, "scan_failed", "Could not read Drive metadata")
		return nil, false
	}
	return files, true
}
