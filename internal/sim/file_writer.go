package sim

import (
	"encoding/json"
	"os"
	"sync"

	"meshsim/internal/telemetry"
)

// FileWriter writes node, event and state rows to JSONL files.
type FileWriter struct {
	mu        sync.Mutex
	nodeFile  *os.File
	eventFile *os.File
	stateFile *os.File
	nodeEnc   *json.Encoder
	eventEnc  *json.Encoder
	stateEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. eventPath or statePath may be empty to skip those logs.
func NewFileWriter(nodePath, eventPath, statePath string) (*FileWriter, error) {
	nf, err := os.Create(nodePath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{nodeFile: nf, nodeEnc: json.NewEncoder(nf)}
	if eventPath != "" {
		ef, err := os.Create(eventPath)
		if err != nil {
			fw.Close()
			return nil, err
		}
		fw.eventFile = ef
		fw.eventEnc = json.NewEncoder(ef)
	}
	if statePath != "" {
		sf, err := os.Create(statePath)
		if err != nil {
			fw.Close()
			return nil, err
		}
		fw.stateFile = sf
		fw.stateEnc = json.NewEncoder(sf)
	}
	return fw, nil
}

// Write logs a single node row.
func (f *FileWriter) Write(row telemetry.NodeRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodeEnc.Encode(row)
}

// WriteBatch logs multiple node rows.
func (f *FileWriter) WriteBatch(rows []telemetry.NodeRow) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent logs a routing event, if enabled.
func (f *FileWriter) WriteEvent(e telemetry.EventRow) error {
	if f.eventEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventEnc.Encode(e)
}

// WriteEvents logs multiple routing events.
func (f *FileWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, r := range rows {
		if err := f.WriteEvent(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteState logs a network state row, if enabled.
func (f *FileWriter) WriteState(row telemetry.NetworkStateRow) error {
	if f.stateEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateEnc.Encode(row)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	for _, file := range []*os.File{f.nodeFile, f.eventFile, f.stateFile} {
		if file == nil {
			continue
		}
		if e := file.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
