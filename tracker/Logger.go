package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Name of the file a Logger persists its series to, inside the
// Logger's directory
const logFileName string = "diagnostics.bin"

// Logger accumulates named diagnostic series while an agent learns.
// Each call to Store appends one value to each named series; Dump
// persists every series to the Logger's directory, creating the
// directory on first use. A Logger constructed over a directory that
// already holds dumped data loads the existing series and appends to
// them.
type Logger struct {
	dir  string
	data map[string][]float64
}

// NewLogger returns a Logger writing to the argument directory,
// loading any series a previous Logger dumped there.
func NewLogger(dir string) (*Logger, error) {
	l := &Logger{
		dir:  dir,
		data: make(map[string][]float64),
	}

	filename := filepath.Join(dir, logFileName)
	if _, err := os.Stat(filename); err == nil {
		data, err := loadSeries(filename)
		if err != nil {
			return nil, fmt.Errorf("newLogger: could not load existing "+
				"diagnostics: %v", err)
		}
		l.data = data
	}

	return l, nil
}

// Store appends each value in the argument map to its named series
func (l *Logger) Store(values map[string]float64) {
	for key, value := range values {
		l.data[key] = append(l.data[key], value)
	}
}

// Series returns the values stored so far under a key
func (l *Logger) Series(key string) []float64 {
	return l.data[key]
}

// Dump persists every series to the Logger's directory, creating the
// directory if it does not yet exist
func (l *Logger) Dump() error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("dump: could not create log directory: %v", err)
	}

	file, err := os.Create(filepath.Join(l.dir, logFileName))
	if err != nil {
		return fmt.Errorf("dump: could not create log file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err := en.Encode(l.data); err != nil {
		return fmt.Errorf("dump: could not encode diagnostics: %v", err)
	}
	return nil
}

// LoadResults loads the named series a Logger dumped to the argument
// directory. Every requested key must be present.
func LoadResults(dir string, keys ...string) (map[string][]float64, error) {
	data, err := loadSeries(filepath.Join(dir, logFileName))
	if err != nil {
		return nil, fmt.Errorf("loadResults: %v", err)
	}

	out := make(map[string][]float64, len(keys))
	for _, key := range keys {
		series, ok := data[key]
		if !ok {
			return nil, fmt.Errorf("loadResults: no series named %q", key)
		}
		out[key] = series
	}
	return out, nil
}

func loadSeries(filename string) (map[string][]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %v", err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var data map[string][]float64
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("could not decode log file: %v", err)
	}
	return data, nil
}
