// Package storage отвечает за долговременное хранение документов отчётов.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DocumentStore описывает контракт хранилища готовых документов.
type DocumentStore interface {
	Save(name string, content []byte) (string, error)
	Open(path string) (io.ReadSeekCloser, error)
}

// FileStore хранит документы в локальном каталоге.
type FileStore struct {
	dir string
}

// NewFileStore создаёт хранилище в указанном каталоге, создавая его при необходимости.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("documents dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save атомарно записывает документ и возвращает его путь в хранилище.
// Запись идёт во временный файл с последующим переименованием,
// чтобы при сбое не оставался частично записанный документ.
func (s *FileStore) Save(name string, content []byte) (string, error) {
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename document: %w", err)
	}

	return path, nil
}

// Open открывает сохранённый документ для чтения.
func (s *FileStore) Open(path string) (io.ReadSeekCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	return f, nil
}
