// Overmesh - decentralized key-based routing
// Copyright 2026 The Overmesh Authors. All rights reserved.
//
// Overmesh is free software: you can redistribute it and/or modify it under
// the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// Overmesh is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS
// FOR A PARTICULAR PURPOSE. See the GNU General Public License for more
// details.

// This file contains a thread pool implementation that allows tasks to be
// scheduled and executes them concurrently, ensuring that at all times a
// limited number of threads exist.

package pool

import (
	"errors"
	"sync"

	"github.com/overmesh/overmesh/container/queue"
)

// A task function meant to be started as a go routine.
type Task func()

// A thread pool to place a hard limit on the number of go-routines doing
// some type of (possibly too consuming) work.
type ThreadPool struct {
	mutex sync.Mutex
	alert *sync.Cond
	tasks *queue.Queue

	workers int
	started bool
	quit    bool
	done    sync.WaitGroup
}

// Creates a thread pool with the given concurrent thread capacity.
func NewThreadPool(cap int) *ThreadPool {
	p := &ThreadPool{
		tasks:   queue.New(),
		workers: cap,
	}
	p.alert = sync.NewCond(&p.mutex)
	return p
}

// Starts the thread pool and workers.
func (p *ThreadPool) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.started || p.quit {
		return
	}
	p.started = true
	p.done.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.runner()
	}
}

// Waits for the tasks currently being executed to finish, terminating the
// whole pool afterwards. Queued tasks are either drained before termination
// or discarded, depending on the clear flag. No new tasks are accepted in
// the meanwhile.
func (p *ThreadPool) Terminate(clear bool) {
	p.mutex.Lock()
	if p.quit {
		p.mutex.Unlock()
		return
	}
	p.quit = true
	if clear {
		p.tasks.Reset()
	}
	started := p.started
	p.alert.Broadcast()
	p.mutex.Unlock()

	if started {
		p.done.Wait()
	}
}

// Schedules a new task into the thread pool.
func (p *ThreadPool) Schedule(task Task) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.quit {
		return errors.New("pool terminating")
	}
	p.tasks.Push(task)
	p.alert.Signal()
	return nil
}

// Dumps the waiting tasks from the pool.
func (p *ThreadPool) Clear() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.tasks.Reset()
}

// Waits for scheduled tasks and executes them one by one, terminating when
// the pool is torn down and no runnable tasks remain.
func (p *ThreadPool) runner() {
	defer p.done.Done()
	for {
		p.mutex.Lock()
		for p.tasks.Empty() && !p.quit {
			p.alert.Wait()
		}
		if p.tasks.Empty() {
			p.mutex.Unlock()
			return
		}
		task := p.tasks.Pop().(Task)
		p.mutex.Unlock()

		task()
	}
}
