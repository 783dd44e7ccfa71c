// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// A simple tool that starts an Engine, prints the startup snapshot, and
// logs every subsequent link signal until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coriolis-labs/linkmonitor"
)

var fStartupTimeout = flag.Duration("startup_timeout", 5*time.Second, "Bound on the initial kernel listing.")
var fCreate = flag.String("create", "", "If set, create a dummy interface with this name on startup.")

func main() {
	flag.Parse()

	cfg := linkmonitor.NewEngineConfig()
	cfg.StartupTimeout = *fStartupTimeout

	e, err := linkmonitor.NewEngine(cfg)
	if err != nil {
		log.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	fmt.Println("initial links:")
	for _, l := range e.EnumerateLinks() {
		fmt.Printf("  %d %s %s up=%v connected=%v arp=%v\n", l.Ifindex, l.Name, l.Kind, l.Up, l.Connected, l.ARP)
	}

	unsubscribe := e.Subscribe(func(sig linkmonitor.Signal) {
		fmt.Printf("%s: %d %s\n", sig.Kind, sig.Link.Ifindex, sig.Link.Name)
	})
	defer unsubscribe()

	if *fCreate != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.Create(ctx, *fCreate, linkmonitor.Dummy); err != nil {
			log.Printf("Create(%q): %v", *fCreate, err)
		}
		cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
