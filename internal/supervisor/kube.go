package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientretry "k8s.io/client-go/util/retry"
)

// RestartedAtAnnotation is the pod template annotation `kubectl rollout
// restart` stamps to trigger a new rollout.
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// KubeConfig configures Kube.
type KubeConfig struct {
	Namespace string
	Client    kubernetes.Interface
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Kube rollout-restarts Deployments. Both Recreate and Restart map to a
// rollout restart; the Deployment spec already references the shared
// configuration, so new pods pick up the persisted selection.
type Kube struct {
	ns     string
	client kubernetes.Interface
	log    zerolog.Logger
	now    func() time.Time
}

// NewKube returns a Kubernetes-backed Supervisor.
func NewKube(cfg KubeConfig) *Kube {
	k := &Kube{ns: cfg.Namespace, client: cfg.Client, log: zerolog.Nop(), now: cfg.Now}
	if k.ns == "" {
		k.ns = "default"
	}
	if cfg.Logger != nil {
		k.log = cfg.Logger.With().Str("component", "supervisor").Str("kind", string(KindKubernetes)).Logger()
	}
	if k.now == nil {
		k.now = time.Now
	}
	return k
}

// RestConfig loads the in-cluster config, falling back to kubeconfigPath,
// $KUBECONFIG and ~/.kube/config in that order.
func RestConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	if kubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("unable to load kubeconfig from %s: %w", kubeconfigPath, err)
	}
	return cfg, nil
}

// NewKubeFromConfig builds the clientset from RestConfig.
func NewKubeFromConfig(namespace, kubeconfigPath string, logger *zerolog.Logger) (*Kube, error) {
	rc, err := RestConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return NewKube(KubeConfig{Namespace: namespace, Client: cs, Logger: logger}), nil
}

// Recreate rollout-restarts the Deployment named service.
func (k *Kube) Recreate(ctx context.Context, service string) error {
	if err := k.rolloutRestart(ctx, service); err != nil {
		return &Error{Action: "recreate", Service: service, Err: err}
	}
	return nil
}

// Restart rollout-restarts the Deployment named service.
func (k *Kube) Restart(ctx context.Context, service string) error {
	if err := k.rolloutRestart(ctx, service); err != nil {
		return &Error{Action: "restart", Service: service, Err: err}
	}
	return nil
}

func (k *Kube) rolloutRestart(ctx context.Context, name string) error {
	stamp := k.now().UTC().Format(time.RFC3339)
	err := clientretry.RetryOnConflict(clientretry.DefaultRetry, func() error {
		deployments := k.client.AppsV1().Deployments(k.ns)
		d, err := deployments.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if d.Spec.Template.Annotations == nil {
			d.Spec.Template.Annotations = map[string]string{}
		}
		d.Spec.Template.Annotations[RestartedAtAnnotation] = stamp
		_, err = deployments.Update(ctx, d, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return err
	}
	k.log.Info().Str("deployment", name).Str("namespace", k.ns).Msg("rollout restart requested")
	return nil
}
