package proposal

import (
	"testing"
	"time"

	"github.com/drivemind-app/drivemind/internal/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDuplicatesKeepNewestCopy(t *testing.T) {
	files := []drive.FileInfo{
		{ID: "old", Name: "report.pdf", MD5Checksum: "abc", ModifiedTime: now.Add(-48 * time.Hour)},
		{ID: "new", Name: "report final.pdf", MD5Checksum: "abc", ModifiedTime: now.Add(-time.Hour)},
		{ID: "other", Name: "notes.txt", MD5Checksum: "def", ModifiedTime: now},
	}

	proposals := NewRuleBased().Propose(files, now)
	require.Len(t, proposals, 1)

	assert.Equal(t, "old", proposals[0].FileID)
	assert.Equal(t, ActionTrash, proposals[0].Action)
	assert.Contains(t, proposals[0].Reason, "report final.pdf")
}

func TestDuplicatesIgnoreFoldersAndEmptyChecksums(t *testing.T) {
	files := []drive.FileInfo{
		{ID: "d1", Name: "a", MD5Checksum: "", ModifiedTime: now},
		{ID: "d2", Name: "b", MD5Checksum: "", ModifiedTime: now},
		{ID: "f1", Name: "dir", MD5Checksum: "abc", MimeType: "application/vnd.google-apps.folder"},
		{ID: "f2", Name: "dir2", MD5Checksum: "abc", MimeType: "application/vnd.google-apps.folder"},
	}

	assert.Empty(t, NewRuleBased().Propose(files, now))
}

func TestStaleLargeFiles(t *testing.T) {
	files := []drive.FileInfo{
		{ID: "big-old", Name: "backup.zip", Size: 500 << 20, ModifiedTime: now.Add(-400 * 24 * time.Hour)},
		{ID: "big-new", Name: "video.mp4", Size: 500 << 20, ModifiedTime: now.Add(-time.Hour)},
		{ID: "small-old", Name: "todo.txt", Size: 1024, ModifiedTime: now.Add(-400 * 24 * time.Hour)},
	}

	proposals := NewRuleBased().Propose(files, now)
	require.Len(t, proposals, 1)

	assert.Equal(t, "big-old", proposals[0].FileID)
	assert.Equal(t, ActionArchive, proposals[0].Action)
	assert.Contains(t, proposals[0].Reason, "500 MiB")
}

func TestTrashedFilesNeverProposed(t *testing.T) {
	files := []drive.FileInfo{
		{ID: "t1", Name: "a", MD5Checksum: "abc", Trashed: true, ModifiedTime: now},
		{ID: "t2", Name: "b", MD5Checksum: "abc", Trashed: true, ModifiedTime: now},
		{ID: "t3", Name: "c", Size: 500 << 20, Trashed: true, ModifiedTime: now.Add(-400 * 24 * time.Hour)},
	}

	assert.Empty(t, NewRuleBased().Propose(files, now))
}

func TestProposalOrderIsStable(t *testing.T) {
	files := []drive.FileInfo{
		{ID: "z-old", Name: "z.pdf", MD5Checksum: "zzz", ModifiedTime: now.Add(-48 * time.Hour)},
		{ID: "z-new", Name: "z copy.pdf", MD5Checksum: "zzz", ModifiedTime: now.Add(-time.Hour)},
		{ID: "a-old", Name: "a.pdf", MD5Checksum: "aaa", ModifiedTime: now.Add(-48 * time.Hour)},
		{ID: "a-new", Name: "a copy.pdf", MD5Checksum: "aaa", ModifiedTime: now.Add(-time.Hour)},
		{ID: "m-old", Name: "m.pdf", MD5Checksum: "mmm", ModifiedTime: now.Add(-48 * time.Hour)},
		{ID: "m-new", Name: "m copy.pdf", MD5Checksum: "mmm", ModifiedTime: now.Add(-time.Hour)},
	}

	proposer := NewRuleBased()
	first := proposer.Propose(files, now)
	require.Len(t, first, 3)
	assert.Equal(t, "a-old", first[0].FileID)
	assert.Equal(t, "m-old", first[1].FileID)
	assert.Equal(t, "z-old", first[2].FileID)

	for i := 0; i < 20; i++ {
		assert.Equal(t, first, proposer.Propose(files, now))
	}
}

func TestEmptyScan(t *testing.T) {
	assert.Empty(t, NewRuleBased().Propose(nil, now))
}
