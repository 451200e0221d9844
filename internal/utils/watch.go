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

package utils

import (
	"os"
	"path/filepath"

	"github.com/cloudwego/ticketflow/internal/log"
	"github.com/fsnotify/fsnotify"
)

// WatchDir watches dir and its direct subdirectories, calling cb for every
// event. Subdirectories created later are added on the fly. The returned
// func stops the watcher.
func WatchDir(dir string, cb func(op fsnotify.Op, file string)) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, WrapError(err, "create watcher")
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, WrapErrorf(err, "watch %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.Close()
		return nil, WrapErrorf(err, "read %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(dir, e.Name())); err != nil {
				log.Warn("watch %s: %v", e.Name(), err)
			}
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = w.Add(ev.Name)
					}
				}
				cb(ev.Op, ev.Name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("watch %s: %v", dir, err)
			}
		}
	}()
	return w.Close, nil
}
