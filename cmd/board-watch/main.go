package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-kanban/client"
	"prism-kanban/domain"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL  = flag.String("url", getenv("KANBAN_API_URL", "http://localhost:8080"), "kanban API base URL")
		project  = flag.String("project", getenv("KANBAN_PROJECT", "demo"), "project to follow")
		user     = flag.String("user", "", "user id the token belongs to, used to recognize own echoes")
		conns    = flag.Int("connections", 1, "number of independent followers")
		poll     = flag.Duration("poll", 30*time.Second, "refetch the board after this much stream silence")
		duration = flag.Duration("duration", 0, "stop after this long; zero runs until interrupted")
		verbose  = flag.Bool("v", false, "log every view change")
	)
	flag.Parse()
	bearer := os.Getenv("KANBAN_BEARER")
	if bearer == "" {
		log.Fatal("KANBAN_BEARER must be set")
	}
	if *conns < 1 {
		log.Fatal("connections must be at least 1")
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var changes, failures uint64
	var wg sync.WaitGroup
	wg.Add(*conns)
	for i := 0; i < *conns; i++ {
		i := i
		go func() {
			defer wg.Done()
			hc := client.NewHTTPClient(*baseURL, bearer)
			entry := log.WithFields(log.Fields{"follower": i, "project": *project})
			store := client.NewStore(*user, domain.Board{}, client.StoreOptions{
				OnChange: func(b domain.Board) {
					atomic.AddUint64(&changes, 1)
					if i == 0 {
						entry.WithField("revision", b.Revision).Info(summarize(b))
					}
				},
				OnError: func(marker string, err error) {
					atomic.AddUint64(&failures, 1)
					entry.WithError(err).WithField("marker", marker).Warn("change rolled back")
				},
			})
			syncer := client.NewSyncer(client.SyncerOptions{
				ProjectID:    *project,
				Store:        store,
				Fetcher:      hc,
				Source:       hc,
				PollInterval: *poll,
			})
			if err := syncer.Run(ctx); err != nil {
				entry.WithError(err).Error("syncer stopped")
			}
		}()
	}
	wg.Wait()
	fmt.Printf("connections=%d view_changes=%d rollbacks=%d\n", *conns, atomic.LoadUint64(&changes), atomic.LoadUint64(&failures))
}

// summarize renders a board as "todo[a b] doing[c]".
func summarize(b domain.Board) string {
	var sb strings.Builder
	for i, col := range b.ColumnIDs() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s[%s]", col, strings.Join(b.TaskIDs(col), " "))
	}
	return sb.String()
}
