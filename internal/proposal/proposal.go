// Package proposal derives cleanup suggestions from scanned Drive
// metadata. Proposals are suggestions only, nothing here mutates the
// user's Drive.
package proposal

import (
	"fmt"
	"sort"
	"time"

	"github.com/drivemind-app/drivemind/internal/drive"
)

// Action is what a proposal suggests doing with a file
type Action string

const (
	ActionTrash   Action = "trash"
	ActionArchive Action = "archive"
)

// Proposal is a single suggested action with its reasoning
type Proposal struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Action   Action `json:"action"`
	Reason   string `json:"reason"`
}

// Proposer turns a file listing into cleanup proposals
type Proposer interface {
	Propose(files []drive.FileInfo, now time.Time) []Proposal
}

const (
	staleAge     = 365 * 24 * time.Hour
	largeFile    = 100 << 20 // 100 MiB
	folderMime   = "application/vnd.google-apps.folder"
	shortcutMime = "application/vnd.google-apps.shortcut"
)

// RuleBased applies two rules: exact duplicates by MD5 checksum keep
// only the newest copy, and large files untouched for a year get an
// archive suggestion.
type RuleBased struct{}

func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

func (p *RuleBased) Propose(files []drive.FileInfo, now time.Time) []Proposal {
	var proposals []Proposal
	proposals = append(proposals, p.duplicates(files)...)
	proposals = append(proposals, p.staleLarge(files, now)...)
	return proposals
}

func (p *RuleBased) duplicates(files []drive.FileInfo) []Proposal {
	byChecksum := make(map[string][]drive.FileInfo)
	for _, f := range files {
		if f.MD5Checksum == "" || f.Trashed || f.MimeType == folderMime || f.MimeType == shortcutMime {
			continue
		}
		byChecksum[f.MD5Checksum] = append(byChecksum[f.MD5Checksum], f)
	}

	// Map iteration order would leak into the response; sort the groups
	// so identical scans produce identical proposals.
	checksums := make([]string, 0, len(byChecksum))
	for sum, group := range byChecksum {
		if len(group) >= 2 {
			checksums = append(checksums, sum)
		}
	}
	sort.Strings(checksums)

	var proposals []Proposal
	for _, sum := range checksums {
		group := byChecksum[sum]
		// Keep the most recently modified copy
		sort.Slice(group, func(i, j int) bool {
			return group[i].ModifiedTime.After(group[j].ModifiedTime)
		})
		keeper := group[0]
		for _, dup := range group[1:] {
			proposals = append(proposals, Proposal{
				FileID:   dup.ID,
				FileName: dup.Name,
				Action:   ActionTrash,
				Reason:   fmt.Sprintf("duplicate of %q", keeper.Name),
			})
		}
	}
	return proposals
}

func (p *RuleBased) staleLarge(files []drive.FileInfo, now time.Time) []Proposal {
	var proposals []Proposal
	for _, f := range files {
		if f.Trashed || f.MimeType == folderMime || f.MimeType == shortcutMime {
			continue
		}
		if f.Size < largeFile || f.ModifiedTime.IsZero() {
			continue
		}
		if age := now.Sub(f.ModifiedTime); age >= staleAge {
			proposals = append(proposals, Proposal{
				FileID:   f.ID,
				FileName: f.Name,
				Action:   ActionArchive,
				Reason:   fmt.Sprintf("%d MiB, not modified in over a year", f.Size>>20),
			})
		}
	}
	return proposals
}
