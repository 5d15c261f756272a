package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KV is a small durable key-value file. The whole file is one JSON object;
// every write replaces it atomically through a temp file and rename.
type KV struct {
	mu   sync.Mutex
	path string
}

// DecodeError reports a file or value that is not valid JSON
type DecodeError struct {
	Path string
	Key  string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("decode %s[%s]: %v", e.Path, e.Key, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// OpenKV prepares a key-value file at path, creating its directory
func OpenKV(path string) (*KV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &KV{path: path}, nil
}

// Path returns the backing file path
func (kv *KV) Path() string {
	return kv.path
}

// Get decodes the value under key into v. It reports false when the key is absent.
func (kv *KV) Get(key string, v any) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	entries, err := kv.readLocked()
	if err != nil {
		return false, err
	}
	raw, ok := entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, &DecodeError{Path: kv.path, Key: key, Err: err}
	}
	return true, nil
}

// Set stores v under key
func (kv *KV) Set(key string, v any) error {
	return kv.Update(key, func(json.RawMessage) (any, error) { return v, nil })
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	entries, err := kv.readLocked()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return kv.writeLocked(entries)
}

// Update runs a read-modify-write of key under the file lock. fn receives the
// current raw value (nil when absent) and returns the new value. Returning
// ErrSkipWrite leaves the file untouched.
func (kv *KV) Update(key string, fn func(current json.RawMessage) (any, error)) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	entries, err := kv.readLocked()
	if err != nil {
		return err
	}

	next, err := fn(entries[key])
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	entries[key] = raw
	return kv.writeLocked(entries)
}

// ErrSkipWrite is returned from an Update callback to abort without writing
var ErrSkipWrite = errors.New("skip write")

func (kv *KV) readLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(kv.path)
	if os.IsNotExist(err) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	entries := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &DecodeError{Path: kv.path, Err: err}
	}
	return entries, nil
}

func (kv *KV) writeLocked(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(kv.path), ".kv-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, kv.path)
}
