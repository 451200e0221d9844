// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package knowledge serves per-category reference documents from a
// directory tree laid out as <root>/<category>_docs/*.txt.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/ticketflow/internal/log"
	"github.com/cloudwego/ticketflow/internal/utils"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/fsnotify/fsnotify"
)

var _ workflow.Retriever = (*DirStore)(nil)

type DirStoreOptions struct {
	Root string
	// Watch keeps the cache fresh by watching Root with fsnotify.
	Watch bool
}

// DirStore loads documents lazily per category and caches them. Safe for
// concurrent use.
type DirStore struct {
	opts  DirStoreOptions
	cache sync.Map // category dir name -> []string
	stop  func() error
}

func NewDirStore(opts DirStoreOptions) (*DirStore, error) {
	s := &DirStore{opts: opts}
	if !opts.Watch {
		return s, nil
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, utils.WrapErrorf(err, "create knowledge base dir %s", opts.Root)
	}
	stop, err := utils.WatchDir(opts.Root, func(op fsnotify.Op, file string) {
		if op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
			return
		}
		dir := filepath.Base(filepath.Dir(file))
		if filepath.Clean(filepath.Dir(file)) == filepath.Clean(opts.Root) {
			// a category directory itself changed
			dir = filepath.Base(file)
		} else if !strings.HasSuffix(file, ".txt") {
			return
		}
		s.cache.Delete(dir)
		log.Debug("knowledge base %s invalidated by %s", dir, op)
	})
	if err != nil {
		return nil, err
	}
	s.stop = stop
	return s, nil
}

// Close stops the watcher, if any.
func (s *DirStore) Close() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

// DirName is the directory holding category's documents.
func DirName(category string) string {
	return strings.ToLower(category) + "_docs"
}

// LoadDocuments implements workflow.Retriever. Documents come back in file
// name order so ranking ties are stable across runs.
func (s *DirStore) LoadDocuments(ctx context.Context, category string) ([]string, error) {
	name := DirName(category)
	if v, ok := s.cache.Load(name); ok {
		return append([]string(nil), v.([]string)...), nil
	}
	docs, err := s.load(ctx, category, name)
	if err != nil {
		return nil, err
	}
	s.cache.Store(name, docs)
	return append([]string(nil), docs...), nil
}

func (s *DirStore) load(ctx context.Context, category, name string) ([]string, error) {
	dir := filepath.Join(s.opts.Root, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []string{fmt.Sprintf("No specific knowledge base found for %s category.", category)}, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	docs := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bs, err := os.ReadFile(f)
		if err != nil {
			return nil, utils.WrapErrorf(err, "read %s", f)
		}
		docs = append(docs, strings.TrimSpace(string(bs)))
	}
	if len(docs) == 0 {
		return []string{fmt.Sprintf("No documents found in %s knowledge base.", category)}, nil
	}
	log.Debug("loaded %d documents for %s", len(docs), category)
	return docs, nil
}
