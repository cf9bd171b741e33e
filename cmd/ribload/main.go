// SPDX-License-Identifier: MIT

// Command ribload is a thin exerciser for the rib package: it reads
// prefix/mui pairs from stdin, inserts them into a Store, and logs the
// approximate persisted-item count once a second while a second
// goroutine withdraws one randomly chosen entry every five seconds. It does not implement anything
// resembling route ingestion from a real BGP session.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prefixstore/rib"
)

func main() {
	log.SetFlags(log.Lmicroseconds)

	persistDir := flag.String("persist-dir", "", "base directory for on-disk persistence (empty means MemoryOnly)")
	strategy := flag.String("strategy", "memory", "persist strategy: memory, persist-only, write-ahead, persist-history")
	flag.Parse()

	cfg := rib.Config{PersistDir: *persistDir}
	switch *strategy {
	case "memory":
		cfg.Strategy = rib.MemoryOnly
	case "persist-only":
		cfg.Strategy = rib.PersistOnly
	case "write-ahead":
		cfg.Strategy = rib.WriteAhead
	case "persist-history":
		cfg.Strategy = rib.PersistHistory
	default:
		log.Fatalf("unknown strategy %q", *strategy)
	}

	store, err := rib.NewStore(cfg)
	if err != nil {
		log.Fatalf("rib.NewStore: %v", err)
	}
	defer store.Close()

	entries := readEntries(os.Stdin)
	ts := time.Now()
	for _, e := range entries {
		if _, err := store.Insert(e.prefix, e.mui, uint64(ts.UnixNano()), nil, nil, nil); err != nil {
			log.Printf("insert %s/mui=%d: %v", e.prefix, e.mui, err)
		}
	}
	log.Printf("loaded %d entries in %v", len(entries), time.Since(ts))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
				log.Printf("persisted items (both families): %d", store.ApproxPersistedItems())
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		prng := rand.New(rand.NewPCG(7, 7))
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Second):
				if len(entries) == 0 {
					continue
				}
				e := entries[prng.IntN(len(entries))]
				if err := store.MarkMuiWithdrawnForPrefix(e.prefix, e.mui, uint64(time.Now().UnixNano())); err != nil {
					log.Printf("withdraw %s/mui=%d: %v", e.prefix, e.mui, err)
				}
			}
		}
	}()

	time.Sleep(15 * time.Second)
	close(stop)
	wg.Wait()
}

type entry struct {
	prefix netip.Prefix
	mui    uint32
}

// readEntries parses "prefix,mui" lines, one per line, skipping blanks
// and malformed lines with a log warning rather than aborting the load.
func readEntries(r *os.File) []entry {
	var out []entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			log.Printf("skipping malformed line: %q", line)
			continue
		}
		pfx, err := netip.ParsePrefix(strings.TrimSpace(parts[0]))
		if err != nil {
			log.Printf("skipping invalid prefix %q: %v", parts[0], err)
			continue
		}
		mui, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			log.Printf("skipping invalid mui %q: %v", parts[1], err)
			continue
		}
		out = append(out, entry{prefix: pfx, mui: uint32(mui)})
	}
	if err := scanner.Err(); err != nil {
		log.Printf("%s", fmt.Sprintf("reading stdin: %v", err))
	}
	return out
}
