package connector

import (
	"context"
	"sync"
	"time"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

// Memory is an in-process connector over fixed stream data. It is used for tests
// and for replaying staged records.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]Record
	selected []string
	files    map[string][]Record

	// FailReads makes the next n reads fail with a retryable connector error
	FailReads int
	// CheckErr is returned by Check when set
	CheckErr error

	reads  int
	sinces []*time.Time
}

// NewMemory creates a connector serving data
func NewMemory(data map[string][]Record) *Memory {
	if data == nil {
		data = map[string][]Record{}
	}
	return &Memory{data: data, files: map[string][]Record{}}
}

// MemoryFactory returns a Factory handing out the connector of each target's repository
func MemoryFactory(byRepository map[string]*Memory) Factory {
	return func(target models.Target) (Connector, error) {
		m, ok := byRepository[target.Repository]
		if !ok {
			return nil, errors.ConfigErrorf("no fixture for %s", target)
		}
		return m.clone(), nil
	}
}

// SetFiles registers the file details served by FetchCommitFiles
func (m *Memory) SetFiles(repository, sha string, files []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[repository+"@"+sha] = files
}

// SelectStreams chooses the streams returned by Read
func (m *Memory) SelectStreams(streams []string) error {
	if err := validateStreams(streams); err != nil {
		return err
	}
	m.mu.Lock()
	m.selected = append([]string(nil), streams...)
	m.mu.Unlock()
	return nil
}

// Check returns CheckErr
func (m *Memory) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CheckErr
}

// Read returns copies of the selected streams' records inside the window
func (m *Memory) Read(ctx context.Context, since *time.Time) (map[string][]Record, error) {
	m.mu.Lock()
	selected := m.selected
	m.mu.Unlock()
	return m.read(ctx, since, selected)
}

func (m *Memory) read(ctx context.Context, since *time.Time, selected []string) (map[string][]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.ConnectorError(err, "read cancelled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	m.sinces = append(m.sinces, since)
	if m.FailReads > 0 {
		m.FailReads--
		return nil, errors.New(errors.ErrorTypeConnector, errors.SeverityHigh, "simulated connector failure")
	}
	if len(selected) == 0 {
		return nil, validateStreams(nil)
	}

	out := make(map[string][]Record, len(selected))
	for _, stream := range selected {
		var records []Record
		for _, r := range m.data[stream] {
			if After(stream, r, since) {
				records = append(records, copyRecord(r))
			}
		}
		out[stream] = records
	}
	return out, nil
}

// FetchCommitFiles returns the files registered with SetFiles
func (m *Memory) FetchCommitFiles(ctx context.Context, repository, sha string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := m.files[repository+"@"+sha]
	out := make([]Record, 0, len(files))
	for _, f := range files {
		out = append(out, copyRecord(f))
	}
	return out, nil
}

// Reads returns the number of Read calls and the start date of each
func (m *Memory) Reads() (int, []*time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, append([]*time.Time(nil), m.sinces...)
}

// clone shares data and counters but not the stream selection
func (m *Memory) clone() *memoryView {
	return &memoryView{Memory: m}
}

// memoryView gives each stage its own stream selection over a shared Memory
type memoryView struct {
	*Memory
	selected []string
}

func (v *memoryView) SelectStreams(streams []string) error {
	if err := validateStreams(streams); err != nil {
		return err
	}
	v.selected = append([]string(nil), streams...)
	return nil
}

func (v *memoryView) Read(ctx context.Context, since *time.Time) (map[string][]Record, error) {
	return v.Memory.read(ctx, since, v.selected)
}

// copyRecord deep-copies nested maps and lists so extractors cannot alter fixtures
func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyRecord(val)
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			list[i] = copyValue(item)
		}
		return list
	default:
		return val
	}
}

var (
	_ Connector   = (*Memory)(nil)
	_ FileFetcher = (*Memory)(nil)
)
