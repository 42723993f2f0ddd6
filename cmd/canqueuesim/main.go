// Command canqueuesim exercises the queueing subsystem against a synthetic
// workload described by a TOML scenario file, driving expiration, shedding
// and garbage collection in the background while pushing and popping
// messages in the foreground.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	canqueue "github.com/joeycumines/go-canqueue"
	"github.com/joeycumines/go-canqueue/driver"
	"github.com/joeycumines/go-canqueue/message"
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
)

type scenario struct {
	// Number of peer canisters, split between the local and remote subnet.
	Peers      int `toml:"peers"`
	LocalPeers int `toml:"local_peers"`

	// Requests pushed per peer, and ingress messages pushed in total.
	RequestsPerPeer int `toml:"requests_per_peer"`
	IngressMessages int `toml:"ingress_messages"`

	// Fraction of requests sent best-effort, with deadlines a few seconds
	// out, in percent.
	BestEffortPercent int `toml:"best_effort_percent"`

	// Payload size per request.
	PayloadBytes int `toml:"payload_bytes"`

	// Wall-clock duration of the simulation.
	DurationSeconds int `toml:"duration_seconds"`

	// Best-effort memory limit; 0 derives one from total system memory.
	MemoryLimitBytes int `toml:"memory_limit_bytes"`
}

func defaultScenario() scenario {
	return scenario{
		Peers:             8,
		LocalPeers:        4,
		RequestsPerPeer:   100,
		IngressMessages:   50,
		BestEffortPercent: 50,
		PayloadBytes:      2048,
		DurationSeconds:   10,
	}
}

func main() {
	configPath := flag.String(`config`, ``, `path to a TOML scenario file`)
	verbose := flag.Bool(`v`, false, `enable debug logging`)
	flag.Parse()

	level := logiface.LevelInformational
	if *verbose {
		level = logiface.LevelDebug
	}
	log := izerolog.L.New(
		izerolog.L.WithZerolog(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()),
		izerolog.L.WithLevel(level),
	).Logger()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Log(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warning().Err(err).Log(`failed to set GOMAXPROCS`)
	}

	cfg := defaultScenario()
	if *configPath != `` {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			log.Err().Err(err).Str(`path`, *configPath).Log(`failed to load scenario`)
			os.Exit(1)
		}
	}
	if cfg.MemoryLimitBytes <= 0 {
		// An eighth of total system memory keeps the demo well away from
		// actual memory pressure.
		cfg.MemoryLimitBytes = int(memory.TotalMemory() / 8)
	}

	if err := run(log, cfg); err != nil {
		log.Err().Err(err).Log(`simulation failed`)
		os.Exit(1)
	}
}

func run(log *logiface.Logger[logiface.Event], cfg scenario) error {
	const own message.CanisterID = 1

	localCanisters := make(map[message.CanisterID]struct{})
	for i := 0; i < cfg.LocalPeers && i < cfg.Peers; i++ {
		localCanisters[peerID(i)] = struct{}{}
	}

	d := driver.New(canqueue.New(), driver.Config{
		OwnCanisterID:              own,
		LocalCanisters:             localCanisters,
		PollInterval:               250 * time.Millisecond,
		GCInterval:                 time.Second,
		BestEffortMemoryLimitBytes: cfg.MemoryLimitBytes,
		StripOversizedIngress:      true,
		Logger:                     log,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DurationSeconds)*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	produce(d, cfg, own)

	var inducted, delivered int
	for ctx.Err() == nil {
		d.WithLock(func(q *canqueue.CanisterQueues) {
			for q.PopInput() != nil {
				inducted++
			}
			it := q.OutputIntoIter()
			for it.Pop() != nil {
				delivered++
			}
		})
		time.Sleep(100 * time.Millisecond)
	}

	<-done
	d.WithLock(func(q *canqueue.CanisterQueues) {
		log.Info().
			Int(`inducted`, inducted).
			Int(`delivered`, delivered).
			Int(`input_messages_left`, q.InputQueuesMessageCount()).
			Int(`output_messages_left`, q.OutputQueuesMessageCount()).
			Int(`guaranteed_memory_bytes`, q.GuaranteedResponseMemoryUsage()).
			Int(`best_effort_memory_bytes`, q.BestEffortMemoryUsage()).
			Log(`simulation complete`)
	})
	return nil
}

// produce pushes the scenario's workload: ingress messages, inbound
// requests from every peer, and outbound requests to every peer.
func produce(d *driver.Driver, cfg scenario, own message.CanisterID) {
	for i := 0; i < cfg.IngressMessages; i++ {
		d.PushIngress(&message.Ingress{
			Source:        message.UserID(i % 10),
			Receiver:      own,
			MethodName:    `update`,
			MethodPayload: make([]byte, cfg.PayloadBytes),
		})
	}

	now := time.Now()
	var callback message.CallbackID
	d.WithLock(func(q *canqueue.CanisterQueues) {
		for p := 0; p < cfg.Peers; p++ {
			peer := peerID(p)
			queueType := canqueue.RemoteSubnet
			if p < cfg.LocalPeers {
				queueType = canqueue.LocalSubnet
			}
			for i := 0; i < cfg.RequestsPerPeer; i++ {
				deadline := message.NoDeadline
				if (i*100)/max(cfg.RequestsPerPeer, 1) < cfg.BestEffortPercent {
					deadline = message.CoarseFloor(now.Add(3 * time.Second))
				}

				callback++
				in := &message.Request{
					Sender:              peer,
					Receiver:            own,
					SenderReplyCallback: callback,
					MethodName:          `call`,
					MethodPayload:       make([]byte, cfg.PayloadBytes),
					Deadline:            deadline,
				}
				if err := q.PushInput(in, queueType); err != nil {
					break
				}

				callback++
				out := &message.Request{
					Sender:              own,
					Receiver:            peer,
					SenderReplyCallback: callback,
					MethodName:          `call`,
					MethodPayload:       make([]byte, cfg.PayloadBytes),
					Deadline:            deadline,
				}
				if err := q.PushOutputRequest(out, now); err != nil {
					break
				}
			}
		}
	})
}

func peerID(i int) message.CanisterID { return message.CanisterID(100 + i) }
