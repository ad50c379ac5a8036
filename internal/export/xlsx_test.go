package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/law-makers/racecrawl/pkg/models"
)

func sampleRaces() []models.Race {
	return []models.Race{
		{Date: "Feb 1, 2026", Name: "Groundhog Day 10K", Location: "Punxsutawney, PA"},
		{Date: "Feb 7, 2026", Name: "Cupid's Undie Run", Location: "Austin, TX"},
		{Date: "Feb 14, 2026", Name: "Sweetheart Half Marathon", Location: "Denver, CO"},
	}
}

func TestExport_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "races.xlsx")

	got, err := Export(sampleRaces(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	races, err := ReadRecords(got)
	require.NoError(t, err)
	assert.Equal(t, sampleRaces(), races)
}

func TestExport_HeaderRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "races.xlsx")
	_, err := Export(sampleRaces(), path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Date", "Race Name", "Location"}, rows[0])
	assert.Equal(t, []string{"Feb 1, 2026", "Groundhog Day 10K", "Punxsutawney, PA"}, rows[1])
}

func TestExport_AppendsExtension(t *testing.T) {
	base := filepath.Join(t.TempDir(), "february")

	got, err := Export(sampleRaces(), base)
	require.NoError(t, err)
	assert.Equal(t, base+".xlsx", got)

	_, err = os.Stat(got)
	assert.NoError(t, err)
}

func TestExport_EmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "none.xlsx")

	got, err := Export(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExport_KeepsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dupes.xlsx")
	r := sampleRaces()[0]

	_, err := Export([]models.Race{r, r}, path)
	require.NoError(t, err)

	races, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Equal(t, []models.Race{r, r}, races)
}

func TestFilename(t *testing.T) {
	defer func(orig func() time.Time) { now = orig }(now)
	now = func() time.Time { return time.Date(2026, 2, 3, 14, 5, 9, 0, time.UTC) }

	assert.Equal(t, "races_20260203_140509.xlsx", Filename(""))
	assert.Equal(t, "races_20260203_140509.xlsx", Filename("   "))
	assert.Equal(t, "out.xlsx", Filename("out"))
	assert.Equal(t, "out.XLSX", Filename("out.XLSX"))
	assert.Equal(t, "out.csv.xlsx", Filename("out.csv"))
}
