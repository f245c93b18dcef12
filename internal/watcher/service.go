package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/dwizi/boost-runtime/internal/quota"
	"github.com/dwizi/boost-runtime/internal/selector"
)

// WeightsSink receives reloaded selection weights, implemented by the
// selector.
type WeightsSink interface {
	SetWeights(weights selector.Weights)
}

// Service hot-reloads the action weights policy file. The parent directory is
// watched rather than the file itself: editors and config managers typically
// replace the file, which would orphan a direct watch.
type Service struct {
	path    string
	sink    WeightsSink
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

func New(path string, sink WeightsSink, logger *slog.Logger) (*Service, error) {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		path:    filepath.Clean(path),
		sink:    sink,
		logger:  logger,
		watcher: fileWatcher,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	if err := s.watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch weights directory: %w", err)
	}
	s.applyFromFile()
	s.logger.Info("weights watcher started", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("weights watcher stopped")
			return nil
		case event := <-s.watcher.Events:
			s.handleEvent(event)
		case err := <-s.watcher.Errors:
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	s.logger.Info("weights policy changed", "path", s.path, "op", event.Op.String())
	s.applyFromFile()
}

func (s *Service) applyFromFile() {
	weights, err := LoadWeights(s.path)
	if err != nil {
		// Keep the current weights on a broken file; an operator mid-edit
		// must not zero out selection.
		s.logger.Error("failed to load weights policy", "path", s.path, "error", err)
		return
	}
	s.sink.SetWeights(weights)
}

// LoadWeights parses a JSON file mapping action kinds to probabilities.
func LoadWeights(path string) (selector.Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights file: %w", err)
	}
	var parsed map[string]float64
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse weights file: %w", err)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("weights file is empty")
	}

	weights := selector.Weights{}
	for name, weight := range parsed {
		kind := quota.Kind(name)
		switch kind {
		case quota.KindReply, quota.KindLike, quota.KindRepost:
		default:
			return nil, fmt.Errorf("unknown action kind %q", name)
		}
		if weight < 0 || weight > 1 {
			return nil, fmt.Errorf("weight for %q out of range [0,1]: %f", name, weight)
		}
		weights[kind] = weight
	}
	return weights, nil
}
