package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"winpredict/internal/riot"
	"winpredict/internal/snapshot"
)

// ErrHeaderMismatch is returned when an existing dataset was written with a
// different column layout than the one requested.
var ErrHeaderMismatch = errors.New("storage: dataset header does not match configured minutes")

const itemSlots = 7

// Header returns the dataset columns for the given snapshot minutes
func Header(minutes []int) []string {
	cols := []string{"match_id", "game_duration", "blue_win"}
	for _, side := range []string{"blue", "red"} {
		for p := 1; p <= TeamSize; p++ {
			cols = append(cols, fmt.Sprintf("%s_champ_%d", side, p))
		}
	}
	for _, side := range []string{"blue", "red"} {
		for p := 1; p <= TeamSize; p++ {
			cols = append(cols, fmt.Sprintf("%s_champ_name_%d", side, p))
		}
	}
	for _, side := range []string{"blue", "red"} {
		for p := 1; p <= TeamSize; p++ {
			for slot := 0; slot < itemSlots; slot++ {
				cols = append(cols, fmt.Sprintf("%s_item_%d_%d", side, p, slot))
			}
		}
	}
	for _, m := range minutes {
		cols = append(cols, snapshot.FieldNames(m)...)
	}
	return cols
}

// Row renders a record in Header(minutes) order. Champion columns carry the
// numeric champion id; names go in the *_champ_name_N columns. Minutes missing
// from rec.Snapshots produce empty cells.
func Row(rec *MatchRecord, minutes []int) ([]string, error) {
	blue, red, err := rec.Teams()
	if err != nil {
		return nil, err
	}

	row := make([]string, 0, len(Header(minutes)))
	row = append(row,
		rec.ID(),
		strconv.FormatFloat(rec.Match.Info.DurationMinutes(), 'f', 2, 64),
		boolCell(rec.BlueWin()),
	)
	for _, team := range [][]riot.MatchParticipant{blue, red} {
		for _, p := range team {
			row = append(row, strconv.Itoa(p.ChampionID))
		}
	}
	for _, team := range [][]riot.MatchParticipant{blue, red} {
		for _, p := range team {
			row = append(row, p.ChampionName)
		}
	}
	for _, team := range [][]riot.MatchParticipant{blue, red} {
		for _, p := range team {
			for _, item := range p.Items() {
				row = append(row, strconv.Itoa(item))
			}
		}
	}
	for _, m := range minutes {
		s, ok := rec.Snapshots[m]
		if !ok {
			for range snapshot.FieldNames(m) {
				row = append(row, "")
			}
			continue
		}
		for _, v := range s.Values() {
			row = append(row, strconv.Itoa(v))
		}
	}
	return row, nil
}

func boolCell(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// DatasetWriter appends match rows to a CSV file. The header is written when
// the file is created; reopening an existing file continues after its last row.
type DatasetWriter struct {
	mu      sync.Mutex
	path    string
	minutes []int
	file    *os.File
	w       *csv.Writer
	rows    int
}

// OpenDataset opens or creates the dataset at path
func OpenDataset(path string, minutes []int) (*DatasetWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dataset directory: %w", err)
		}
	}

	header := Header(minutes)
	existing, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	if existing != nil && !equalStrings(existing, header) {
		return nil, fmt.Errorf("%s: %w", path, ErrHeaderMismatch)
	}

	if existing != nil {
		if err := trimTornLine(path); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	d := &DatasetWriter{
		path:    path,
		minutes: append([]int(nil), minutes...),
		file:    f,
		w:       csv.NewWriter(f),
	}
	if existing == nil {
		if err := d.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		if err := d.flushLocked(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

// readHeader returns nil for a missing or empty file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}
	return rec, nil
}

// trimTornLine truncates a file that does not end in a newline back to its
// last complete line, so appended rows never merge into a half-written one.
func trimTornLine(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	cut := bytes.LastIndexByte(data, '\n') + 1
	if err := os.Truncate(path, int64(cut)); err != nil {
		return fmt.Errorf("failed to truncate torn row: %w", err)
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Path returns the dataset file path
func (d *DatasetWriter) Path() string { return d.path }

// WriteMatch buffers one row. Call Flush to make it durable.
func (d *DatasetWriter) WriteMatch(_ context.Context, rec *MatchRecord) error {
	row, err := Row(rec, d.minutes)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Write(row); err != nil {
		return fmt.Errorf("failed to write row %s: %w", rec.ID(), err)
	}
	d.rows++
	return nil
}

// Rows returns how many rows this writer has appended
func (d *DatasetWriter) Rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows
}

// Flush writes buffered rows and fsyncs the file
func (d *DatasetWriter) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *DatasetWriter) flushLocked() error {
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		return fmt.Errorf("failed to flush dataset: %w", err)
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync dataset: %w", err)
	}
	return nil
}

// ExistingIDs returns the match id of every complete row in the file.
// A torn final line left by a crash is ignored.
func (d *DatasetWriter) ExistingIDs() ([]string, error) {
	if err := d.Flush(); err != nil {
		return nil, err
	}
	return ReadMatchIDs(d.path)
}

// ReadMatchIDs scans a dataset file and returns its match ids in file order
func ReadMatchIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}

	var ids []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Only the last line can be partial; anything before it was fsynced.
			var pe *csv.ParseError
			if errors.As(err, &pe) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return ids, fmt.Errorf("failed to read dataset: %w", err)
		}
		if rec[0] != "" {
			ids = append(ids, rec[0])
		}
	}
	return ids, nil
}

// Close flushes and closes the file
func (d *DatasetWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.flushLocked()
	err = multierr.Append(err, d.file.Close())
	d.file = nil
	return err
}
