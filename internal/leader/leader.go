// Package leader runs work on exactly one replica at a time, using a
// Kubernetes Lease as the lock.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/auction-house/internal/config"
)

// Elector competes for one lease on behalf of this process.
type Elector struct {
	cfg     config.LeaderElectionConfig
	client  kubernetes.Interface
	id      string
	logger  *slog.Logger
	leading atomic.Bool
}

// NewElector creates an Elector for the lease named in cfg. An empty id
// falls back to the pod name, then the hostname.
func NewElector(cfg config.LeaderElectionConfig, client kubernetes.Interface, id string, logger *slog.Logger) *Elector {
	if id == "" {
		id = podIdentity()
	}
	return &Elector{cfg: cfg, client: client, id: id, logger: logger.With(slog.String("identity", id))}
}

// ID is the identity written into the lease.
func (e *Elector) ID() string { return e.id }

// Leading reports whether this process currently holds the lease.
func (e *Elector) Leading() bool { return e.leading.Load() }

// Run calls fn each time the lease is acquired, with a context that is
// cancelled when it is lost. It returns once ctx is done.
func (e *Elector) Run(ctx context.Context, fn func(ctx context.Context)) error {
	le, err := leaderelection.NewLeaderElector(e.electionConfig(fn))
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}
	e.logger.InfoContext(ctx, "joining leader election",
		slog.String("lease", e.cfg.LeaseName),
		slog.String("namespace", e.cfg.LeaseNamespace),
	)
	for ctx.Err() == nil {
		// Run returns when leadership is lost or ctx ends.
		le.Run(ctx)
	}
	return nil
}

func (e *Elector) electionConfig(fn func(ctx context.Context)) leaderelection.LeaderElectionConfig {
	return leaderelection.LeaderElectionConfig{
		Lock: &resourcelock.LeaseLock{
			LeaseMeta:  metav1.ObjectMeta{Name: e.cfg.LeaseName, Namespace: e.cfg.LeaseNamespace},
			Client:     e.client.CoordinationV1(),
			LockConfig: resourcelock.ResourceLockConfig{Identity: e.id},
		},
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.leading.Store(true)
				e.logger.InfoContext(ctx, "lease acquired")
				fn(ctx)
			},
			OnStoppedLeading: func() {
				e.leading.Store(false)
				e.logger.Info("lease released")
			},
			OnNewLeader: func(holder string) {
				if holder != e.id {
					e.logger.Info("lease held elsewhere", slog.String("holder", holder))
				}
			},
		},
	}
}

func podIdentity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

// InClusterClient builds a clientset from the pod's service account.
func InClusterClient() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// RunLeading runs fn while this replica leads. With election disabled fn
// simply runs until it returns.
func RunLeading(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, fn func(ctx context.Context)) error {
	if !cfg.Enabled {
		fn(ctx)
		return nil
	}
	client, err := InClusterClient()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}
	return NewElector(cfg, client, "", logger).Run(ctx, fn)
}
