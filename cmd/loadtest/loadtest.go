// Command loadtest connects a ring of clients and has each one message the
// next, reporting how many sends were confirmed and how long acks took.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/client"
)

type stats struct {
	confirmed atomic.Int64
	failed    atomic.Int64
	received  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *stats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *stats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })
	return s.latencies[int(float64(len(s.latencies)-1)*p)]
}

func main() {
	url := flag.String("url", "http://localhost:8080", "server base url")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	users := flag.String("users", "", "comma separated user ids known to the server")
	messages := flag.Int("messages", 10, "messages per client")
	interval := flag.Duration("interval", 100*time.Millisecond, "pause between sends")
	sse := flag.Bool("sse", false, "use the event stream instead of the websocket")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var ids []uuid.UUID
	for _, s := range strings.Split(*users, ",") {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			log.Error("invalid user id", "value", s, "error", err)
			os.Exit(2)
		}
		ids = append(ids, id)
	}
	if len(ids) < 2 || *secret == "" {
		fmt.Fprintln(os.Stderr, "loadtest needs -secret and at least two -users")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st stats
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		to := ids[(i+1)%len(ids)]
		g.Go(func() error {
			return runClient(ctx, log, &st, *url, *secret, id, to, *messages, *interval, *sse)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("load test aborted", "error", err)
	}

	total := len(ids) * *messages
	fmt.Printf("clients=%d sent=%d confirmed=%d failed=%d received=%d elapsed=%s\n",
		len(ids), total, st.confirmed.Load(), st.failed.Load(), st.received.Load(),
		time.Since(start).Round(time.Millisecond))
	fmt.Printf("ack p50=%s p99=%s\n", st.percentile(0.5), st.percentile(0.99))
}

func runClient(ctx context.Context, log *slog.Logger, st *stats, url, secret string, from, to uuid.UUID, n int, interval time.Duration, sse bool) error {
	token, err := auth.MakeJWT(from, secret, time.Hour)
	if err != nil {
		return err
	}

	events := make(chan client.Event, 64)
	d, err := client.NewDriver(client.Config{
		URL:              url,
		Token:            token,
		DisableWebSocket: sse,
		Logger:           log,
	}, events)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	connected := make(chan struct{})
	var once sync.Once
	var sentAt sync.Map
	var settled atomic.Int64

	stopConsuming := make(chan struct{})
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for {
			var e client.Event
			select {
			case e = <-events:
			case <-stopConsuming:
				return
			}

			switch e := e.(type) {
			case client.StateChanged:
				if e.State == client.Connected {
					once.Do(func() { close(connected) })
				}
			case client.SendConfirmed:
				st.confirmed.Add(1)
				settled.Add(1)
				if at, ok := sentAt.Load(e.Pending.TempID); ok {
					st.observe(time.Since(at.(time.Time)))
				}
			case client.SendFailed:
				st.failed.Add(1)
				settled.Add(1)
			case client.MessageReceived:
				st.received.Add(1)
			}
		}
	}()
	defer func() {
		close(stopConsuming)
		<-consumed
	}()

	select {
	case <-connected:
	case err := <-runErr:
		return fmt.Errorf("client %s never connected: %w", from, err)
	case <-ctx.Done():
		return ctx.Err()
	}

	for i := range n {
		at := time.Now()
		p, _ := d.Send(ctx, to, fmt.Sprintf("load %d from %s", i, from))
		sentAt.Store(p.TempID, at)

		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}

	// give outstanding acks a moment
	deadline := time.Now().Add(5 * time.Second)
	for settled.Load() < int64(n) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	_ = d.Close()
	<-runErr
	return nil
}
