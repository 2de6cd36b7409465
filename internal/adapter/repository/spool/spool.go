// Package spool keeps enriched messages the bus refused in append-only
// segment files on local disk so they can be redelivered later.
package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const (
	segmentPrefix = "segment-"
	filePerm      = 0644
)

var ErrSpoolFull = errors.New("spool max total size exceeded")

// Spool is a segmented file spool of undelivered messages.
type Spool struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
}

// Open creates the spool directory if needed and appends to its newest segment.
func Open(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	s := &Spool{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "spool"),
	}

	total, err := s.calculateTotalSize()
	if err != nil {
		return nil, err
	}
	s.totalSize = total

	if err := s.openLatestSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends msg to the current segment.
func (s *Spool) Write(ctx context.Context, msg domain.EnrichedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message for spool: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentSegment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d > %d)", ErrSpoolFull, s.totalSize+int64(len(data)), s.maxTotalSize)
	}

	n, err := s.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to spool segment: %w", err)
	}
	s.currentSize += int64(n)
	s.totalSize += int64(n)

	if s.currentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("Failed to rotate spool segment", "error", err)
		}
	}
	return nil
}

// Len reports the bytes currently held on disk.
func (s *Spool) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Replay feeds every spooled message, oldest first, to handler. A segment is
// removed once all of its messages were handled; replay stops at the first
// handler error and leaves the remaining segments in place.
func (s *Spool) Replay(ctx context.Context, handler func(ctx context.Context, msg domain.EnrichedMessage) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentSegment != nil {
		s.currentSegment.Close()
		s.currentSegment = nil
	}
	// reopen a fresh segment whatever happens so writes keep working
	defer func() {
		if err := s.rotate(); err != nil {
			s.logger.Error("Failed to open spool segment after replay", "error", err)
		}
	}()

	segments, err := s.getSortedSegments()
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, nil
	}
	s.logger.Info("Starting spool replay", "segment_count", len(segments))

	replayed := 0
	for _, path := range segments {
		n, err := s.replaySegment(ctx, path, handler)
		replayed += n
		if err != nil {
			return replayed, err
		}
		info, statErr := os.Stat(path)
		if err := os.Remove(path); err != nil {
			s.logger.Error("Failed to remove replayed spool segment", "path", path, "error", err)
			continue
		}
		if statErr == nil {
			s.totalSize -= info.Size()
		}
	}

	s.logger.Info("Spool replay completed", "messages", replayed)
	return replayed, nil
}

func (s *Spool) replaySegment(ctx context.Context, path string, handler func(ctx context.Context, msg domain.EnrichedMessage) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		var msg domain.EnrichedMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("Failed to unmarshal message from spool, skipping", "error", err)
			continue
		}
		if err := handler(ctx, msg); err != nil {
			return replayed, fmt.Errorf("replay handler failed: %w", err)
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return replayed, nil
}

func (s *Spool) rotate() error {
	if s.currentSegment != nil {
		if err := s.currentSegment.Sync(); err != nil {
			s.logger.Error("Failed to sync spool segment before rotating", "error", err)
		}
		if err := s.currentSegment.Close(); err != nil {
			s.logger.Error("Failed to close spool segment before rotating", "error", err)
		}
		s.currentSegment = nil
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s%d.log", segmentPrefix, time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create spool segment %s: %w", path, err)
	}

	s.currentSegment = f
	s.currentSize = 0
	s.logger.Debug("Rotated to new spool segment", "path", path)
	return nil
}

func (s *Spool) openLatestSegment() error {
	segments, err := s.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return s.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}

	s.currentSegment = f
	s.currentSize = stat.Size()
	s.logger.Info("Opened existing spool segment", "path", latest, "size", s.currentSize)

	if s.currentSize >= s.maxSegmentSize {
		return s.rotate()
	}
	return nil
}

func (s *Spool) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (s *Spool) calculateTotalSize() (int64, error) {
	var total int64
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			info, err := entry.Info()
			if err != nil {
				return 0, err
			}
			total += info.Size()
		}
	}
	return total, nil
}

// Close syncs and closes the current segment.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSegment == nil {
		return nil
	}
	if err := s.currentSegment.Sync(); err != nil {
		s.logger.Warn("Failed to sync spool segment on close", "error", err)
	}
	err := s.currentSegment.Close()
	s.currentSegment = nil
	return err
}
