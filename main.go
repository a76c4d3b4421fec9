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

package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/overmesh/overmesh/link"
	"github.com/overmesh/overmesh/proto/bootstrap"
	"github.com/overmesh/overmesh/proto/overlay"
	"gopkg.in/inconshreveable/log15.v2"
)

// Time granted to a departing node to finish its goodbyes.
const leaveGrace = 3 * time.Second

func main() {
	conf := parseFlags()

	// Configure the process wide logger
	log15.Root().SetHandler(log15.LvlFilterHandler(log15.Lvl(*verbosity), log15.StderrHandler))
	logger := log15.New()

	// Check for CPU profiling
	if *cpuProfile != "" {
		prof, err := os.Create(*cpuProfile)
		if err != nil {
			logger.Crit("failed to create CPU profile", "error", err)
			os.Exit(1)
		}
		pprof.StartCPUProfile(prof)
		defer pprof.StopCPUProfile()
	}
	// Check for lock contention profiling
	if *blockProfile != "" {
		prof, err := os.Create(*blockProfile)
		if err != nil {
			logger.Crit("failed to create block profile", "error", err)
			os.Exit(1)
		}
		runtime.SetBlockProfileRate(1)
		defer pprof.Lookup("block").WriteTo(prof, 0)
	}
	// Open the contact store if a data directory was configured
	var store *bootstrap.Store
	seeds := conf.seeds
	if conf.dataDir != "" {
		if err := os.MkdirAll(conf.dataDir, 0700); err != nil {
			logger.Crit("failed to create data directory", "path", conf.dataDir, "error", err)
			os.Exit(1)
		}
		var err error
		store, err = bootstrap.OpenStore(filepath.Join(conf.dataDir, "contacts.db"))
		if err != nil {
			logger.Crit("failed to open contact store", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		stored, err := store.Contacts()
		if err != nil {
			logger.Crit("failed to load stored contacts", "error", err)
			os.Exit(1)
		}
		logger.Info("loaded stored contacts", "count", len(stored))
		seeds = append(seeds, stored...)
	}
	// Start the transport layer and the overlay on top
	network, err := link.NewTCPManager(conf.id, conf.listen, conf.adverts, logger)
	if err != nil {
		logger.Crit("failed to start link manager", "error", err)
		os.Exit(1)
	}
	node, err := overlay.New(network, bootstrap.NewStatic(seeds), logger)
	if err != nil {
		logger.Crit("failed to create overlay node", "error", err)
		os.Exit(1)
	}
	// Without anybody to join, start a fresh overlay
	if len(seeds) == 0 {
		logger.Info("no bootstrap contacts, creating overlay", "id", conf.id)
		if err := node.Create(); err != nil {
			logger.Crit("failed to create overlay", "error", err)
			os.Exit(1)
		}
	} else {
		node.OnJoined(func(err error) {
			if err != nil {
				logger.Crit("failed to join overlay", "error", err)
				os.Exit(1)
			}
			logger.Info("overlay membership established", "id", conf.id)
		})
		if err := node.Join(); err != nil {
			logger.Crit("failed to start join", "error", err)
			os.Exit(1)
		}
	}
	// Wait for termination request, clean up and exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	logger.Info("terminating node")
	if store != nil {
		for _, contact := range node.Table().Contacts() {
			if err := store.Put(contact); err != nil {
				logger.Warn("failed to persist contact", "peer", contact.ID, "error", err)
			}
		}
	}
	if err := node.Leave(); err == nil {
		for start := time.Now(); time.Since(start) < leaveGrace; time.Sleep(50 * time.Millisecond) {
			if node.Status() == overlay.StatusInit {
				break
			}
		}
	}
	if err := node.Close(); err != nil {
		logger.Error("failed to tear down node", "error", err)
	}
	logger.Info("node terminated")
}
