package resource

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"Mail2Ledger/internal/logger"
)

// Pinger is any dependency whose liveness can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SQLPinger adapts *sql.DB to Pinger.
type SQLPinger struct{ DB *sql.DB }

func (p SQLPinger) Ping(ctx context.Context) error { return p.DB.PingContext(ctx) }

// Status is the last heartbeat result for one resource.
type Status struct {
	Name      string    `json:"name"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type ResourceManager struct {
	resources         map[string]Pinger
	status            map[string]Status
	mu                sync.RWMutex
	stopChan          chan struct{}
	stopOnce          sync.Once
	heartbeatInterval time.Duration
	pingTimeout       time.Duration
}

func NewResourceManagerService(cfg map[string]interface{}) *ResourceManager {
	interval := 30 * time.Second // default
	if val, ok := cfg["heartbeat_interval"]; ok {
		switch v := val.(type) {
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				interval = d
			}
		case int:
			interval = time.Duration(v) * time.Second
		case float64:
			interval = time.Duration(v) * time.Second
		}
	}
	return &ResourceManager{
		resources:         make(map[string]Pinger),
		status:            make(map[string]Status),
		stopChan:          make(chan struct{}),
		heartbeatInterval: interval,
		pingTimeout:       5 * time.Second,
	}
}

func (rm *ResourceManager) Name() string { return "resourcemanager" }

func (rm *ResourceManager) Start() error {
	logger.Audit("ResourceManager started")
	rm.Check(context.Background())
	go rm.heartbeatLoop()
	return nil
}

func (rm *ResourceManager) Stop() error {
	rm.stopOnce.Do(func() { close(rm.stopChan) })
	return nil
}

func (rm *ResourceManager) heartbeatLoop() {
	ticker := time.NewTicker(rm.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopChan:
			return
		case <-ticker.C:
			rm.Check(context.Background())
		}
	}
}

// Check pings every resource once and records the results.
func (rm *ResourceManager) Check(ctx context.Context) []Status {
	rm.mu.RLock()
	targets := make(map[string]Pinger, len(rm.resources))
	for k, v := range rm.resources {
		targets[k] = v
	}
	rm.mu.RUnlock()

	log := logger.L()
	results := make([]Status, 0, len(targets))
	for name, p := range targets {
		pctx, cancel := context.WithTimeout(ctx, rm.pingTimeout)
		err := p.Ping(pctx)
		cancel()
		st := Status{Name: name, OK: err == nil, CheckedAt: time.Now().UTC()}
		if err != nil {
			st.Error = err.Error()
			log.Warn().Err(err).Str("resource", name).Msg("heartbeat failed")
		}
		results = append(results, st)
	}

	rm.mu.Lock()
	for _, st := range results {
		if _, still := rm.resources[st.Name]; still {
			rm.status[st.Name] = st
		}
	}
	rm.mu.Unlock()
	return results
}

// Statuses returns the last known result per resource, sorted by name.
func (rm *ResourceManager) Statuses() []Status {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Status, 0, len(rm.status))
	for _, st := range rm.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy is true when every registered resource passed its last check.
func (rm *ResourceManager) Healthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for name := range rm.resources {
		if st, ok := rm.status[name]; !ok || !st.OK {
			return false
		}
	}
	return true
}

func (rm *ResourceManager) AddResource(key string, resource Pinger) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.resources[key] = resource
}

func (rm *ResourceManager) GetResource(key string) (Pinger, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	resource, exists := rm.resources[key]
	return resource, exists
}

func (rm *ResourceManager) RemoveResource(key string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.resources, key)
	delete(rm.status, key)
}

func (rm *ResourceManager) ListResources() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	keys := make([]string, 0, len(rm.resources))
	for key := range rm.resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
