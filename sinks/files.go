package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zefrenchwan/registries.git/model"
)

// Artifact file suffixes
const (
	EVENTS_SUFFIX   = ".events.jsonl"
	CONFIRMS_SUFFIX = ".confirms.jsonl"
)

// FileSink writes events as JSON lines.
// CONFIRM events go to the confirms artifact, any other event to the events artifact.
type FileSink struct {
	eventsPath   string
	confirmsPath string
	events       *artifact
	confirms     *artifact
}

// artifact is a lazily created JSON lines file
type artifact struct {
	path    string
	file    *os.File
	buffer  *bufio.Writer
	encoder *json.Encoder
}

// NewFileSink returns a sink writing <dir>/<catalog>/<collection>/<run>.{events,confirms}.jsonl
func NewFileSink(dir, catalog, collection, run string) (*FileSink, error) {
	base := filepath.Join(dir, catalog, collection)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifacts directory %s: %w", base, err)
	}

	result := &FileSink{
		eventsPath:   filepath.Join(base, run+EVENTS_SUFFIX),
		confirmsPath: filepath.Join(base, run+CONFIRMS_SUFFIX),
	}

	result.events = &artifact{path: result.eventsPath}
	result.confirms = &artifact{path: result.confirmsPath}
	return result, nil
}

// Paths returns the events and confirms artifacts
func (s *FileSink) Paths() (string, string) {
	return s.eventsPath, s.confirmsPath
}

func (s *FileSink) Write(ctx context.Context, events []model.Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := s.events
		if event.Action == model.ActionConfirm {
			target = s.confirms
		}

		if err := target.write(event); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes both artifacts. An artifact without events is created empty.
func (s *FileSink) Close() error {
	return errors.Join(s.events.close(), s.confirms.close())
}

func (a *artifact) open() error {
	if a.file != nil {
		return nil
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	a.file = file
	a.buffer = bufio.NewWriter(file)
	a.encoder = json.NewEncoder(a.buffer)
	return nil
}

func (a *artifact) write(event model.Event) error {
	if err := a.open(); err != nil {
		return err
	}

	return a.encoder.Encode(event)
}

func (a *artifact) close() error {
	if err := a.open(); err != nil {
		return err
	}

	flushErr := a.buffer.Flush()
	closeErr := a.file.Close()
	a.file = nil
	return errors.Join(flushErr, closeErr)
}

// ReadEvents reads a JSON lines artifact back, in file order
func ReadEvents(path string) ([]model.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer file.Close()

	var result []model.Event
	decoder := json.NewDecoder(bufio.NewReader(file))
	for decoder.More() {
		var event model.Event
		if err := decoder.Decode(&event); err != nil {
			return result, fmt.Errorf("reading %s, event %d: %w", path, len(result)+1, err)
		}

		result = append(result, event)
	}

	return result, nil
}
