package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

// Counter names published under /debug/vars.
const (
	NumActiveClients     = "NumActiveClients"
	NumOnlineUsers       = "NumOnlineUsers"
	NumActiveRooms       = "NumActiveRooms"
	NumReapedConnections = "NumReapedConnections"
	NumDroppedSignals    = "NumDroppedSignals"
)

const deltaQueueSize = 512

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type delta struct {
	name string
	n    int64
}

// StatsUpdater owns an expvar map of counters. Changes are queued and
// applied by a single goroutine started with Run; a full queue drops them.
type StatsUpdater struct {
	name    string
	started time.Time
	vars    *expvar.Map
	deltas  chan delta

	done     chan struct{}
	stopOnce sync.Once
}

// NewStatsUpdater registers GET /debug/vars on mux and publishes the
// counters under name. expvar names are process-global, so the first
// updater created with a given name keeps it.
func NewStatsUpdater(mux *http.ServeMux, name string) *StatsUpdater {
	su := &StatsUpdater{
		name:    name,
		started: time.Now(),
		vars:    new(expvar.Map).Init(),
		deltas:  make(chan delta, deltaQueueSize),
		done:    make(chan struct{}),
	}
	su.vars.Set("UptimeSeconds", expvar.Func(func() any {
		return int64(time.Since(su.started).Seconds())
	}))
	if expvar.Get(name) == nil {
		expvar.Publish(name, su.vars)
	}
	mux.HandleFunc("GET /debug/vars", su.serveVars)

	return su
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// RegisterGauge publishes a value sampled from fn on every read.
func (su *StatsUpdater) RegisterGauge(name string, fn func() int64) {
	su.vars.Set(name, expvar.Func(func() any { return fn() }))
}

func (su *StatsUpdater) Incr(name string) { su.queue(name, 1) }
func (su *StatsUpdater) Decr(name string) { su.queue(name, -1) }

func (su *StatsUpdater) queue(name string, n int64) {
	select {
	case su.deltas <- delta{name: name, n: n}:
	default:
	}
}

func (su *StatsUpdater) Run() {
	go func() {
		for {
			select {
			case d := <-su.deltas:
				su.apply(d)
			case <-su.done:
				return
			}
		}
	}()
}

func (su *StatsUpdater) apply(d delta) {
	if counter, ok := su.vars.Get(d.name).(*expvar.Int); ok {
		counter.Add(d.n)
	}
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.done) })
}

// Snapshot returns the current value of every published variable.
func (su *StatsUpdater) Snapshot() map[string]any {
	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		switch v := kv.Value.(type) {
		case *expvar.Int:
			out[kv.Key] = v.Value()
		case expvar.Func:
			out[kv.Key] = v.Value()
		default:
			out[kv.Key] = json.RawMessage(v.String())
		}
	})
	return out
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]any{su.name: su.Snapshot()})
}
