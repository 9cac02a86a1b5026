/*
 *     Copyright 2022 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sync

import (
	"context"
	"sync"
)

// Kmutex is a key-scoped mutex. Holders of different keys never block each
// other. An entry is dropped once no goroutine holds or waits for its key.
type Kmutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*kentry
}

type kentry struct {
	sem  chan struct{}
	refs int
}

func NewKmutex[K comparable]() *Kmutex[K] {
	return &Kmutex[K]{locks: make(map[K]*kentry)}
}

// Lock blocks until the key is acquired or ctx is done.
func (k *Kmutex[K]) Lock(ctx context.Context, key K) error {
	e := k.acquire(key)
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key)
		return ctx.Err()
	}
}

// TryLock acquires the key only if it is free.
func (k *Kmutex[K]) TryLock(key K) bool {
	e := k.acquire(key)
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		k.release(key)
		return false
	}
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (k *Kmutex[K]) Unlock(key K) {
	k.mu.Lock()
	e, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-e.sem:
		k.release(key)
	default:
	}
}

func (k *Kmutex[K]) acquire(key K) *kentry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		e = &kentry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}

	e.refs++
	return e
}

func (k *Kmutex[K]) release(key K) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		return
	}

	e.refs--
	if e.refs <= 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Kmutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
