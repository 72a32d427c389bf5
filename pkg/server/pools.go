// Copyright 2024 Nokia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sdcio/workpool/pkg/pool"
)

var ErrUnknownPool = errors.New("unknown pool")

type PoolMap struct {
	md    *sync.RWMutex
	pools map[string]*pool.ThreadPool
}

func NewPoolMap() *PoolMap {
	return &PoolMap{
		md:    &sync.RWMutex{},
		pools: map[string]*pool.ThreadPool{},
	}
}

// StopAll stops every pool. Queued tasks are run to completion first.
func (d *PoolMap) StopAll() {
	for _, p := range d.GetPoolAll() {
		p.Stop()
	}
}

func (d *PoolMap) InterruptAll() {
	for _, p := range d.GetPoolAll() {
		p.Interrupt()
	}
}

func (d *PoolMap) AddPool(p *pool.ThreadPool) error {
	d.md.Lock()
	defer d.md.Unlock()
	if existing, _ := d.getPool(p.Name()); existing != nil {
		return fmt.Errorf("pool %s already exists", p.Name())
	}

	d.pools[p.Name()] = p
	return nil
}

func (d *PoolMap) GetPool(name string) (*pool.ThreadPool, error) {
	d.md.RLock()
	defer d.md.RUnlock()
	return d.getPool(name)
}

// GetPoolAll returns the pools sorted by name.
func (d *PoolMap) GetPoolAll() []*pool.ThreadPool {
	d.md.RLock()
	defer d.md.RUnlock()
	result := make([]*pool.ThreadPool, 0, len(d.pools))
	for _, x := range d.pools {
		result = append(result, x)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// getPool expects that the mutex d.md is already held
func (d *PoolMap) getPool(name string) (*pool.ThreadPool, error) {
	p, exists := d.pools[name]
	if !exists {
		return nil, fmt.Errorf("%w %s", ErrUnknownPool, name)
	}
	return p, nil
}
