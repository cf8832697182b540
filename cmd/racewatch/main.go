// Command racewatch follows one race from a relay and prints every agent's interpolated
// position at a fixed interval until the race ends or it is interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"backend-racesync/internal/config"
	"backend-racesync/internal/feed"
	"backend-racesync/internal/race"
	"backend-racesync/internal/route"
	"backend-racesync/internal/session"

	"golang.org/x/sync/errgroup"
)

func main() {
	raceID := flag.String("race", "", "race id to follow")
	interval := flag.Duration("interval", time.Second, "how often to print positions")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, cfg, *raceID, *interval, os.Stdout); err != nil {
		log.Printf("racewatch: %v", err)
		os.Exit(1)
	}
}

var errRaceEnded = errors.New("race ended")

// watch runs until ctx is done or the race ends; a race ending is a clean exit.
func watch(ctx context.Context, cfg config.Config, raceID string, every time.Duration, out io.Writer) error {
	if raceID == "" {
		return errors.New("race id required")
	}
	entries, err := fetchEntries(ctx, http.DefaultClient, cfg.FeedBaseURL, raceID)
	if err != nil {
		return err
	}

	ended := make(chan race.Ended, 1)
	sess, err := session.New(feed.NewManager(cfg.Feed(), nil), entries, session.Options{
		Motion: cfg.Motion(),
		Tick:   cfg.Tick(),
		Callbacks: session.Callbacks{
			OnFinished: func(f race.Finished) {
				fmt.Fprintf(out, "finished %s rank=%d time=%s\n", f.AgentID(), f.Rank, f.Elapsed())
			},
			OnRaceEnded: func(e race.Ended) {
				select {
				case ended <- e:
				default:
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Start(ctx, raceID); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case e := <-ended:
			fmt.Fprintf(out, "race ended: %s\n", e.Reason)
			return errRaceEnded
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				printPositions(out, sess)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errRaceEnded) {
		return err
	}
	return nil
}

func printPositions(out io.Writer, sess *session.Session) {
	positions := sess.Positions()
	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := positions[race.AgentID(id)]
		fmt.Fprintf(out, "%s %s %.6f,%.6f heading=%.0f\n", id, p.Phase, p.Point.Lat, p.Point.Lon, p.Bearing)
	}
}

type participantJSON struct {
	Participant race.Participant `json:"participant"`
	Leg         route.Leg        `json:"leg"`
}

func fetchEntries(ctx context.Context, client *http.Client, base, raceID string) ([]session.Entry, error) {
	endpoint := strings.TrimRight(base, "/") + "/tracking/races/" + url.PathEscape(raceID) + "/participants"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("participants: unexpected status %d", resp.StatusCode)
	}

	var rows []participantJSON
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	entries := make([]session.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, session.Entry{Participant: r.Participant, Leg: r.Leg})
	}
	return entries, nil
}
