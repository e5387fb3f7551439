package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"outpost.ai/internal/persistence/sqlitestore"
	"outpost.ai/internal/protocol"
	"outpost.ai/internal/remote"
	"outpost.ai/internal/sim/controller"
	"outpost.ai/internal/sim/tuning"
	"outpost.ai/internal/transport/stream"
)

func main() {
	var (
		backendURL  = flag.String("backend", "http://127.0.0.1:8080", "backend base url")
		sceneID     = flag.String("scene", "mars", "scene id to follow")
		player      = flag.String("player", "", "agent id driven by this client")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (optional)")
		dataDir     = flag.String("data", "./data", "client data directory")
		ledgerPath  = flag.String("ledger", "", "position ledger sqlite path (default: <data>/ledger.db, \"off\" to disable)")
		compressed  = flag.Bool("zstd", true, "ask for zstd-compressed stream frames")
		send        = flag.String("send", "", "send one command action for -player and exit")
		wander      = flag.Duration("wander", 0, "issue a random move for -player at this interval (0 to disable)")
		statusEvery = flag.Duration("status_every", 10*time.Second, "log the player position at this interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Defaults()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		t, err := tuning.Load(tp)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = t
	}

	client, err := remote.New(remote.Config{BaseURL: *backendURL, Timeout: tune.RemoteTimeout()})
	if err != nil {
		logger.Fatalf("backend client: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *send != "" {
		if *player == "" {
			logger.Fatalf("-send needs -player")
		}
		if err := client.SendCommand(ctx, protocol.CommandEvent{AgentID: *player, Action: *send, Origin: "bot"}); err != nil {
			logger.Fatalf("send %s: %v", *send, err)
		}
		logger.Printf("sent %s to %s", *send, *player)
		return
	}

	var ledger controller.Ledger
	lp := strings.TrimSpace(*ledgerPath)
	if lp == "" {
		lp = filepath.Join(*dataDir, "ledger.db")
	}
	if lp != "off" && *player != "" {
		l, err := sqlitestore.OpenLedger(lp)
		if err != nil {
			logger.Fatalf("open ledger: %v", err)
		}
		defer l.Close()
		ledger = l
	}

	ctrl, err := controller.New(controller.Config{
		Player:  *player,
		Tune:    tune,
		Backend: client,
		Ledger:  ledger,
		Log:     log.New(os.Stdout, "[controller] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("controller: %v", err)
	}

	// The stream also sends the scene on connect; fetching first only
	// surfaces a bad scene id before the loop starts.
	fetchCtx, fetchCancel := context.WithTimeout(ctx, tune.RemoteTimeout())
	sc, err := client.FetchScene(fetchCtx, *sceneID)
	fetchCancel()
	if err != nil {
		logger.Fatalf("fetch scene: %v", err)
	}
	ctrl.ApplyScene(sc)
	logger.Printf("scene %s: %dx%d, %d agents", sc.ID, sc.Dimensions.Cols, sc.Dimensions.Rows, len(sc.Agents))

	streamURL, err := sceneStreamURL(*backendURL, *sceneID)
	if err != nil {
		logger.Fatalf("stream url: %v", err)
	}
	sub := stream.New(stream.Config{
		URL:        streamURL,
		Compressed: *compressed,
		Log:        log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lmicroseconds),
	}, ctrl)
	sub.Start()
	defer sub.Close()

	go func() {
		if err := ctrl.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("controller stopped: %v", err)
		}
	}()

	var wanderC <-chan time.Time
	if *wander > 0 && *player != "" {
		t := time.NewTicker(*wander)
		defer t.Stop()
		wanderC = t.C
	}
	status := time.NewTicker(*statusEvery)
	defer status.Stop()
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	moves := []string{protocol.ActionMoveLeft, protocol.ActionMoveRight, protocol.ActionMoveUp, protocol.ActionMoveDown, protocol.ActionStop}

	for {
		select {
		case <-ctx.Done():
			<-ctrl.Done()
			return
		case <-ctrl.Done():
			return
		case <-wanderC:
			ctrl.Submit(controller.ParseCommand(protocol.CommandEvent{AgentID: *player, Action: moves[r.Intn(len(moves))], Origin: "bot"}))
		case <-status.C:
			v, err := ctrl.Snapshot(ctx)
			if err != nil {
				continue
			}
			st := sub.Status()
			for _, a := range v.Agents {
				if a.ID == *player {
					logger.Printf("player %s at (%.2f,%.2f) actions=%v path=%d stream_connected=%v scenes=%d",
						a.ID, a.Pos.X, a.Pos.Y, a.Actions.List(), len(v.Paths[a.ID]), st.Connected, st.Scenes)
				}
			}
		}
	}
}

// sceneStreamURL maps the backend base url to the websocket stream of a scene.
func sceneStreamURL(base, sceneID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/v1/scenes/" + sceneID + "/stream"
	return u.String(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
