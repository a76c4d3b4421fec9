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

// Contains the command line flags and their processing logic.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
)

// Command line flags
var listenAddr = flag.String("listen", "0.0.0.0:27750", "TCP endpoint to accept peer links on")
var advertAddrs = flag.String("addrs", "", "comma separated addresses advertised to remote peers")
var bootPeers = flag.String("boot", "", "comma separated bootstrap contacts as <hex id>@<host:port>")
var dataDir = flag.String("datadir", "", "directory for the persisted peer contacts")
var nodeID = flag.String("id", "", "hex node identifier, randomly generated when empty")
var verbosity = flag.Int("verbosity", 3, "log verbosity, 0=crit 1=error 2=warn 3=info 4=debug")

var cpuProfile = flag.String("cpuprof", "", "path to CPU profiling results")
var blockProfile = flag.String("blockprof", "", "path to lock contention profiling results")

// Prints the usage of the overmesh command and its options.
func usage() {
	fmt.Printf("Node of the overmesh decentralized routing overlay.\n\n")
	fmt.Printf("Usage:\n")
	fmt.Printf("\t%s [options]\n\n", os.Args[0])

	fmt.Printf("Node options:\n")
	flag.VisitAll(func(f *flag.Flag) {
		if !strings.HasSuffix(f.Name, "prof") {
			if f.DefValue != "" {
				fmt.Printf("\t-%-12s%-18s%s\n", f.Name, "[="+f.DefValue+"]", f.Usage)
			} else {
				fmt.Printf("\t-%-30s%s\n", f.Name, f.Usage)
			}
		}
	})
	fmt.Printf("\n")

	fmt.Printf("Profiling options:\n")
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasSuffix(f.Name, "prof") {
			fmt.Printf("\t-%-30s%s\n", f.Name, f.Usage)
		}
	})
	fmt.Printf("\n")
}

// Parsed command line configuration of the node.
type nodeConfig struct {
	id      identity.Identifier
	listen  string
	adverts []string
	seeds   []link.Contact
	dataDir string
}

// Parses the command line flags into a node configuration, terminating the
// process on invalid input.
func parseFlags() *nodeConfig {
	flag.Usage = usage
	flag.Parse()

	conf := &nodeConfig{
		listen:  *listenAddr,
		dataDir: *dataDir,
	}
	// Resolve the node identifier
	if *nodeID != "" {
		id, err := identity.FromHex(*nodeID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid node identifier: %v.\n", err)
			os.Exit(2)
		}
		conf.id = id
	} else {
		conf.id = identity.Random()
	}
	// Split the advertised addresses
	if *advertAddrs != "" {
		conf.adverts = strings.Split(*advertAddrs, ",")
	}
	// Parse the bootstrap contacts
	if *bootPeers != "" {
		for _, peer := range strings.Split(*bootPeers, ",") {
			contact, err := parseContactFlag(peer)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid bootstrap contact %q: %v.\n", peer, err)
				os.Exit(2)
			}
			conf.seeds = append(conf.seeds, contact)
		}
	}
	return conf
}

// Parses a single <hex id>@<host:port> bootstrap contact.
func parseContactFlag(s string) (link.Contact, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return link.Contact{}, fmt.Errorf("want <hex id>@<host:port>")
	}
	id, err := identity.FromHex(parts[0])
	if err != nil {
		return link.Contact{}, err
	}
	return link.Contact{ID: id, Addrs: []string{parts[1]}}, nil
}
