package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// Rotation triggers
	DefaultMatchesPerFile = 1000
	DefaultMaxFileAge     = 1 * time.Hour
)

// ArchiveConfig configures a raw match archive
type ArchiveConfig struct {
	BaseDir        string
	ColdDir        string // defaults to BaseDir/cold
	MatchesPerFile int
	MaxFileAge     time.Duration
	Compress       bool // gzip closed files into cold storage
	Logger         *zap.Logger
}

// Archive writes fetched match+timeline pairs to rotating JSONL files.
// Files are written under hot/, moved to warm/ when rotated and optionally
// gzipped into cold/.
type Archive struct {
	mu sync.Mutex

	hotDir  string
	warmDir string
	coldDir string

	maxMatches int
	maxAge     time.Duration
	compress   bool
	now        func() time.Time
	log        *zap.SugaredLogger

	currentFile   *os.File
	currentWriter *bufio.Writer
	currentPath   string
	matchCount    int
	fileOpenedAt  time.Time
	seq           int
}

// NewArchive creates the directory layout and opens the first hot file
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("archive: base directory is required")
	}
	if cfg.ColdDir == "" {
		cfg.ColdDir = filepath.Join(cfg.BaseDir, "cold")
	}
	if cfg.MatchesPerFile <= 0 {
		cfg.MatchesPerFile = DefaultMatchesPerFile
	}
	if cfg.MaxFileAge <= 0 {
		cfg.MaxFileAge = DefaultMaxFileAge
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	a := &Archive{
		hotDir:     filepath.Join(cfg.BaseDir, "hot"),
		warmDir:    filepath.Join(cfg.BaseDir, "warm"),
		coldDir:    cfg.ColdDir,
		maxMatches: cfg.MatchesPerFile,
		maxAge:     cfg.MaxFileAge,
		compress:   cfg.Compress,
		now:        time.Now,
		log:        cfg.Logger.Sugar().Named("archive"),
	}

	for _, dir := range []string{a.hotDir, a.warmDir, a.coldDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := a.rotate(); err != nil {
		return nil, err
	}
	return a, nil
}

// WriteMatch appends one record and rotates when the file is full or old
func (a *Archive) WriteMatch(_ context.Context, rec *MatchRecord) error {
	if rec.Match == nil {
		return fmt.Errorf("archive: record has no match")
	}
	line := RawMatch{
		MatchID:      rec.ID(),
		GameVersion:  rec.Match.Info.GameVersion,
		GameDuration: rec.Match.Info.GameDuration,
		GameCreation: rec.Match.Info.GameCreation,
		Match:        rec.Match,
		Timeline:     rec.Timeline,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	line.CollectedAt = a.now().UnixMilli()
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := a.currentWriter.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := a.currentWriter.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	a.matchCount++
	if a.shouldRotate() {
		return a.rotate()
	}
	return nil
}

// Flush pushes buffered lines to the OS
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentWriter == nil {
		return nil
	}
	if err := a.currentWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	return nil
}

func (a *Archive) shouldRotate() bool {
	if a.currentFile == nil {
		return true
	}
	if a.matchCount >= a.maxMatches {
		return true
	}
	return a.now().Sub(a.fileOpenedAt) >= a.maxAge
}

// rotate retires the current file and opens a new one. Caller holds mu.
func (a *Archive) rotate() error {
	if a.currentFile != nil {
		if err := a.retire(); err != nil {
			return err
		}
	}

	a.seq++
	filename := fmt.Sprintf("raw_matches_%s_%03d.jsonl", a.now().Format("2006-01-02_15-04-05"), a.seq)
	a.currentPath = filepath.Join(a.hotDir, filename)

	file, err := os.Create(a.currentPath)
	if err != nil {
		return fmt.Errorf("failed to create new file: %w", err)
	}

	a.currentFile = file
	a.currentWriter = bufio.NewWriterSize(file, 64*1024)
	a.matchCount = 0
	a.fileOpenedAt = a.now()

	a.log.Debugw("opened archive file", "file", filename)
	return nil
}

// retire closes the current file and moves it to warm storage, or removes it
// when empty. Caller holds mu.
func (a *Archive) retire() error {
	if err := a.currentWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := a.currentFile.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	a.currentFile = nil

	if a.matchCount == 0 {
		return os.Remove(a.currentPath)
	}

	warmPath := filepath.Join(a.warmDir, filepath.Base(a.currentPath))
	if err := os.Rename(a.currentPath, warmPath); err != nil {
		return fmt.Errorf("failed to move to warm storage: %w", err)
	}
	a.log.Infow("moved archive file to warm storage", "file", filepath.Base(warmPath), "matches", a.matchCount)

	if a.compress {
		if _, err := CompressToCold(warmPath, a.coldDir); err != nil {
			return err
		}
		a.log.Infow("compressed archive file", "file", filepath.Base(warmPath))
	}
	return nil
}

// Close flushes and retires the current file
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentFile == nil {
		return nil
	}
	return a.retire()
}

// Stats returns the number of matches in the open file and its name
func (a *Archive) Stats() (matchesInCurrentFile int, currentFileName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matchCount, filepath.Base(a.currentPath)
}

// CompressToCold gzips a warm file into coldDir, removes the original and
// returns the compressed path.
func CompressToCold(warmPath, coldDir string) (coldPath string, err error) {
	src, err := os.Open(warmPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	coldPath = filepath.Join(coldDir, filepath.Base(warmPath)+".gz")
	dst, err := os.Create(coldPath)
	if err != nil {
		return "", err
	}

	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	err = multierr.Combine(err, zw.Close(), dst.Close())
	if err != nil {
		os.Remove(coldPath)
		return "", fmt.Errorf("failed to compress %s: %w", filepath.Base(warmPath), err)
	}

	if err := os.Remove(warmPath); err != nil {
		return "", err
	}
	return coldPath, nil
}
