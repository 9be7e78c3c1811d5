// Package kubepods implements [domain.PodManager] with one Kubernetes Pod
// per replica slot.
package kubepods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	core "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fleetshift/deployd/internal/domain"
)

// Pod labels written by the runtime.
const (
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	LabelDeployment = "deployd.io/deployment"
	LabelShard      = "deployd.io/shard"
	LabelSlot       = "deployd.io/slot"
)

// Runtime creates worker Pods in a single namespace.
type Runtime struct {
	Client    kubernetes.Interface
	Namespace string
	Image     string
	Command   []string

	// StopGrace is passed to the API as the Pod deletion grace period.
	StopGrace time.Duration
	// MaxPollInterval bounds the readiness polling backoff.
	MaxPollInterval time.Duration
	Logger          *slog.Logger
}

// NewClient builds a clientset from kubeconfig, or from the in-cluster
// service account when kubeconfig is empty.
func NewClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		config *rest.Config
		err    error
	)
	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(config)
}

func (r *Runtime) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func podName(spec domain.PodSpec) string {
	name := strings.ToLower("deployd-" + string(spec.SlotID))
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.TrimRight(name, "-")
}

func (r *Runtime) Spawn(ctx context.Context, spec domain.PodSpec) (domain.PodHandle, error) {
	keys := make([]string, 0, len(spec.Args))
	for k := range spec.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	var env []core.EnvVar
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", k, spec.Args[k]))
		env = append(env, core.EnvVar{Name: "DEPLOYD_" + strings.ToUpper(k), Value: spec.Args[k]})
	}

	pod := &core.Pod{
		ObjectMeta: meta.ObjectMeta{
			Name:      podName(spec),
			Namespace: r.Namespace,
			Labels: map[string]string{
				LabelManagedBy:  "deployd",
				LabelDeployment: string(spec.DeploymentID),
				LabelShard:      fmt.Sprint(spec.Shard),
				LabelSlot:       string(spec.SlotID),
			},
		},
		Spec: core.PodSpec{
			RestartPolicy: core.RestartPolicyNever,
			Containers: []core.Container{{
				Name:    "worker",
				Image:   r.Image,
				Command: r.Command,
				Args:    args,
				Env:     env,
			}},
		},
	}

	created, err := r.Client.CoreV1().Pods(r.Namespace).Create(ctx, pod, meta.CreateOptions{})
	if err != nil {
		if isCapacityError(err) {
			return "", fmt.Errorf("%w: %v", domain.ErrResourceExhausted, err)
		}
		return "", fmt.Errorf("create pod for slot %s: %w", spec.SlotID, err)
	}
	r.logger().Info("pod created", "pod", created.Name, "deployment_id", spec.DeploymentID, "shard", spec.Shard)
	return domain.PodHandle(created.Name), nil
}

func isCapacityError(err error) bool {
	if apierrors.IsTooManyRequests(err) {
		return true
	}
	return apierrors.IsForbidden(err) && strings.Contains(err.Error(), "exceeded quota")
}

func (r *Runtime) Status(ctx context.Context, h domain.PodHandle) (domain.PodStatus, error) {
	pod, err := r.Client.CoreV1().Pods(r.Namespace).Get(ctx, string(h), meta.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return domain.PodStatus{}, fmt.Errorf("pod %s: %w", h, domain.ErrNotFound)
		}
		return domain.PodStatus{}, fmt.Errorf("get pod %s: %w", h, err)
	}
	return podStatus(pod), nil
}

func podStatus(pod *core.Pod) domain.PodStatus {
	st := domain.PodStatus{Health: domain.SlotHealthPending, Message: pod.Status.Message}
	if pod.Status.StartTime != nil {
		st.StartedAt = pod.Status.StartTime.Time
	}
	if pod.DeletionTimestamp != nil {
		st.Health = domain.SlotHealthTerminated
		return st
	}
	switch pod.Status.Phase {
	case core.PodSucceeded, core.PodFailed:
		st.Health = domain.SlotHealthFailed
		if st.Message == "" {
			st.Message = fmt.Sprintf("pod %s", strings.ToLower(string(pod.Status.Phase)))
		}
	case core.PodRunning:
		for _, c := range pod.Status.Conditions {
			if c.Type == core.PodReady && c.Status == core.ConditionTrue {
				st.Health = domain.SlotHealthHealthy
			}
		}
	}
	return st
}

var errNotReady = errors.New("pod not ready")

// WaitHealthy polls the Pod with exponential backoff until it is Ready.
func (r *Runtime) WaitHealthy(ctx context.Context, h domain.PodHandle) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	if r.MaxPollInterval > 0 {
		b.MaxInterval = r.MaxPollInterval
	}
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		st, err := r.Status(ctx, h)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch st.Health {
		case domain.SlotHealthHealthy:
			return nil
		case domain.SlotHealthFailed, domain.SlotHealthTerminated:
			return backoff.Permanent(fmt.Errorf("pod %s %s: %s", h, st.Health, st.Message))
		}
		return errNotReady
	}, backoff.WithContext(b, ctx))
}

// Terminate deletes the Pod. A Pod that no longer exists is ignored.
func (r *Runtime) Terminate(ctx context.Context, h domain.PodHandle) error {
	opts := meta.DeleteOptions{}
	if r.StopGrace > 0 {
		secs := int64(r.StopGrace.Seconds())
		opts.GracePeriodSeconds = &secs
	}
	err := r.Client.CoreV1().Pods(r.Namespace).Delete(ctx, string(h), opts)
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete pod %s: %w", h, err)
	}
	return nil
}
