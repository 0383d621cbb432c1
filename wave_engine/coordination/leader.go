// Package coordination elects a single sweep leader among engine replicas via
// a Redis lease. Only the leader runs the periodic sweeps; followers keep
// trying to acquire the lease.
package coordination

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
)

type LeaderElector struct {
	coordinator store.Coordinator
	nodeID      string
	lockKey     string
	ttl         time.Duration

	mu           sync.RWMutex
	isLeader     bool
	leaderCtx    context.Context
	leaderCancel context.CancelFunc
	transitions  int64

	onElected func(context.Context)
	onLost    func()

	ctx    context.Context
	cancel context.CancelFunc
}

// LeaderState is the snapshot exposed on the debug endpoint.
type LeaderState struct {
	IsLeader    bool   `json:"is_leader"`
	Transitions int64  `json:"transitions"`
	NodeID      string `json:"node_id"`
}

func NewLeaderElector(c store.Coordinator, nodeID string, ttl time.Duration) *LeaderElector {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElector{
		coordinator: c,
		nodeID:      nodeID,
		lockKey:     store.LeaderLockKey,
		ttl:         ttl,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElector) Start(ctx context.Context) {
	go l.loop(ctx)
}

func (l *LeaderElector) Stop() {
	l.cancel()
	if l.IsLeader() {
		l.release()
	}
}

func (l *LeaderElector) GetState() LeaderState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LeaderState{
		IsLeader:    l.isLeader,
		Transitions: l.transitions,
		NodeID:      l.nodeID,
	}
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// LeaderContext returns a context that is cancelled when leadership is lost.
func (l *LeaderElector) LeaderContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leaderCtx
}

func (l *LeaderElector) loop(ctx context.Context) {
	minInterval := l.ttl / 3
	maxInterval := 10 * l.ttl
	interval := minInterval

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.release()
			}
			return
		case <-l.ctx.Done():
			if l.IsLeader() {
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.coordinator.RenewLease(ctx, l.lockKey, l.nodeID, l.ttl)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("LeaderElector: renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					// Safety: assume the lease is gone rather than run
					// sweeps on a stale claim.
					if renewFailures >= maxRenewFailures {
						log.Printf("LeaderElector: too many renew failures, stepping down")
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.coordinator.AcquireLease(ctx, l.lockKey, l.nodeID, l.ttl)
				if err == nil && acquired {
					l.becomeLeader()
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("LeaderElector: error encountered, backing off for %v", interval)
			} else {
				interval = minInterval
			}

			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	l.transitions++
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCtx = ctx
	l.leaderCancel = cancel
	l.mu.Unlock()

	observability.LeaderStatus.Set(1)
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	log.Printf("LeaderElector: acquired leadership, node=%s", l.nodeID)

	if l.onElected != nil {
		go l.onElected(ctx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	l.transitions++
	if l.leaderCancel != nil {
		l.leaderCancel()
	}
	l.mu.Unlock()

	observability.LeaderStatus.Set(0)
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	log.Printf("LeaderElector: lost leadership, node=%s", l.nodeID)

	if l.onLost != nil {
		l.onLost()
	}
}

func (l *LeaderElector) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.coordinator.ReleaseLease(ctx, l.lockKey, l.nodeID)
}
