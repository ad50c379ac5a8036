// Package export writes scraped races to an Excel workbook.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/law-makers/racecrawl/pkg/models"
)

// Header is the first row of every exported sheet.
var Header = []string{"Date", "Race Name", "Location"}

var now = time.Now

// DefaultFilename returns the timestamped name used when none is given.
func DefaultFilename(t time.Time) string {
	return fmt.Sprintf("races_%s.xlsx", t.Format("20060102_150405"))
}

// Filename normalises a user-supplied output name.
func Filename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFilename(now())
	}
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		name += ".xlsx"
	}
	return name
}

// Export writes records to filename, one row per race in order, and returns
// the path written. With no records nothing is written and "" is returned.
func Export(records []models.Race, filename string) (string, error) {
	if len(records) == 0 {
		log.Warn().Msg("No races to export!")
		return "", nil
	}

	name := Filename(filename)

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Debug().Err(err).Msg("Closing workbook")
		}
	}()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return "", fmt.Errorf("open sheet writer: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 16); err != nil {
		return "", err
	}
	if err := sw.SetColWidth(2, 2, 48); err != nil {
		return "", err
	}
	if err := sw.SetColWidth(3, 3, 28); err != nil {
		return "", err
	}

	head := make([]interface{}, len(Header))
	for i, h := range Header {
		head[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", head); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		if err := sw.SetRow(cell, []interface{}{r.Date, r.Name, r.Location}); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return "", fmt.Errorf("flush sheet: %w", err)
	}

	if err := f.SaveAs(name); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}

	log.Info().Int("races", len(records)).Str("file", name).Msg("Exported races")
	return name, nil
}

// ReadRecords loads the races from a workbook written by Export.
func ReadRecords(path string) ([]models.Race, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return []models.Race{}, nil
	}

	races := make([]models.Race, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cells := make([]string, len(Header))
		copy(cells, row)
		races = append(races, models.Race{Date: cells[0], Name: cells[1], Location: cells[2]})
	}
	return races, nil
}
