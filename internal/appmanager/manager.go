package appmanager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"Mail2Ledger/api"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/dashboard"
	"Mail2Ledger/internal/ingest"
	"Mail2Ledger/internal/jobs"
	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/resource"
	"Mail2Ledger/internal/serviceiface"
)

var (
	db        *sql.DB
	pgxPool   *pgxpool.Pool
	appConfig = config.Default()

	componentsOnce sync.Once
	components     *Components
	componentsErr  error

	// services built so far, for constructors that depend on an earlier one
	resources *resource.ResourceManager
	poller    *ingest.PollerService
)

func SetDB(database *sql.DB) {
	db = database
}

func SetPgxPool(pool *pgxpool.Pool) {
	pgxPool = pool
}

func SetAppConfig(cfg config.Config) {
	appConfig = cfg
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// GetPgxPool returns the pgx pool connection
func GetPgxPool() *pgxpool.Pool {
	return pgxPool
}

func sharedComponents() (*Components, error) {
	componentsOnce.Do(func() {
		components, componentsErr = BuildComponents(context.Background(), appConfig, db, pgxPool)
	})
	return components, componentsErr
}

type constructor func(map[string]interface{}) (serviceiface.Service, error)

var serviceConstructors = map[string]constructor{
	"logger": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		l := logger.NewLoggerService(cfg)
		logger.SetGlobalLogger(l)
		return l, nil
	},
	"resourcemanager": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		rm := resource.NewResourceManagerService(cfg)
		if db != nil {
			rm.AddResource("postgres", resource.SQLPinger{DB: db})
		}
		if pgxPool != nil {
			rm.AddResource("pgxpool", pgxPool)
		}
		resources = rm
		return rm, nil
	},
	"poller": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		c, err := sharedComponents()
		if err != nil {
			return nil, err
		}
		feed := c.Feed()
		poller = ingest.NewPollerService(c.Config, c.Poller).OnRun(func(r ingest.RunReport) {
			feed.Publish(dashboard.NewEvent("poll_run", r))
		})
		return poller, nil
	},
	"digest": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		c, err := sharedComponents()
		if err != nil {
			return nil, err
		}
		dc := jobs.NewDefaultDigestConfig(c.Config)
		if s, ok := cfg["schedule"].(string); ok && s != "" {
			dc.Schedule = s
		}
		return jobs.NewCronService(dc, c.Registry, c.Notifier), nil
	},
	"gateway": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		c, err := sharedComponents()
		if err != nil {
			return nil, err
		}
		deps := api.Deps{
			Config:   c.Config,
			Files:    c.Pipeline,
			Registry: c.Registry,
			Archiver: c.IngestArchiver(),
			Notices:  c.Notifier,
			Feed:     c.Feed(),
			SSE:      c.SSE,
			WS:       c.WS,
		}
		if resources != nil {
			deps.Health = resources
		}
		if poller != nil {
			deps.Poller = poller
		}
		return api.NewGatewayService(cfg, deps), nil
	},
}

// ------------------- MANAGER -------------------

type AppManager struct {
	services []serviceiface.Service
	mu       sync.Mutex
}

func NewAppManager() *AppManager {
	return &AppManager{
		services: make([]serviceiface.Service, 0),
	}
}

func (am *AppManager) RegisterService(s serviceiface.Service) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.services = append(am.services, s)
}

// StartAll starts services in registration order; the resource manager goes last so its
// first heartbeat sees every resource.
func (am *AppManager) StartAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			continue
		}
		logger.Audit("Starting service: " + service.Name())
		if err := service.Start(); err != nil {
			return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
		}
	}

	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			logger.Audit("Starting service: " + service.Name())
			if err := service.Start(); err != nil {
				return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
			}
		}
	}
	return nil
}

// StopAll stops services in reverse order, continuing past failures.
func (am *AppManager) StopAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	var firstErr error
	for i := len(am.services) - 1; i >= 0; i-- {
		svc := am.services[i]
		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop service %s: %w", svc.Name(), err)
		}
	}
	return firstErr
}

// ------------------- YAML CONFIG -------------------

type ServiceSequencer struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name       string                 `yaml:"name"`
	StartOrder int                    `yaml:"start_order"`
	Config     map[string]interface{} `yaml:"config"`
}

// Enabled is false only when config.enabled is explicitly false.
func (c ServiceConfig) Enabled() bool {
	v, ok := c.Config["enabled"].(bool)
	return !ok || v
}

func LoadServiceSequence(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seq ServiceSequencer
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, err
	}

	// sort by start_order
	sort.SliceStable(seq.Services, func(i, j int) bool {
		return seq.Services[i].StartOrder < seq.Services[j].StartOrder
	})

	return seq.Services, nil
}

// AutoRegisterServices builds every enabled, known service in order. Unknown names are
// logged and skipped.
func (am *AppManager) AutoRegisterServices(configs []ServiceConfig) error {
	for _, svc := range configs {
		if !svc.Enabled() {
			continue
		}
		ctor, ok := serviceConstructors[svc.Name]
		if !ok {
			log := logger.L()
			log.Warn().Str("service", svc.Name).Msg("unknown service in sequence")
			continue
		}
		service, err := ctor(svc.Config)
		if err != nil {
			return fmt.Errorf("build service %s: %w", svc.Name, err)
		}
		am.RegisterService(service)
	}
	return nil
}

func (am *AppManager) GetServiceByName(name string) serviceiface.Service {
	am.mu.Lock()
	defer am.mu.Unlock()
	for _, svc := range am.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}
