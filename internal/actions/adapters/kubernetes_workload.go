package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"commandbridge/internal/actions/ports"
	"commandbridge/pkg/platform/sentinel"
)

// RestartedAtAnnotation is the pod-template annotation a rollout restart
// bumps, matching kubectl.
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// KubernetesWorkloads drives Deployments through the API server.
type KubernetesWorkloads struct {
	client kubernetes.Interface
	now    func() time.Time
}

// NewKubernetesClient builds a clientset from a kubeconfig path, or from the
// in-cluster service account when the path is empty.
func NewKubernetesClient(kubeconfig string, timeout time.Duration) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}
	cfg.Timeout = timeout

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

func NewKubernetesWorkloads(client kubernetes.Interface, now func() time.Time) *KubernetesWorkloads {
	if now == nil {
		now = time.Now
	}
	return &KubernetesWorkloads{client: client, now: now}
}

var _ ports.WorkloadController = (*KubernetesWorkloads)(nil)

// RolloutRestart stamps the pod template so the controller replaces every pod.
func (k *KubernetesWorkloads) RolloutRestart(ctx context.Context, namespace, deployment string) error {
	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						RestartedAtAnnotation: k.now().UTC().Format(time.RFC3339),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("encode restart patch: %w", err)
	}
	_, err = k.client.AppsV1().Deployments(namespace).Patch(ctx, deployment, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return wrapKubeErr(err, namespace, deployment)
	}
	return nil
}

// Scale sets a Deployment's replica count and reports the previous value.
func (k *KubernetesWorkloads) Scale(ctx context.Context, namespace, name string, replicas int32) (ports.ScaleStatus, error) {
	deployments := k.client.AppsV1().Deployments(namespace)
	current, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return ports.ScaleStatus{}, wrapKubeErr(err, namespace, name)
	}
	previous := int32(1)
	if current.Spec.Replicas != nil {
		previous = *current.Spec.Replicas
	}

	patch, err := json.Marshal(map[string]any{"spec": map[string]any{"replicas": replicas}})
	if err != nil {
		return ports.ScaleStatus{}, fmt.Errorf("encode scale patch: %w", err)
	}
	updated, err := deployments.Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return ports.ScaleStatus{}, wrapKubeErr(err, namespace, name)
	}
	desired := replicas
	if updated.Spec.Replicas != nil {
		desired = *updated.Spec.Replicas
	}
	return ports.ScaleStatus{Previous: previous, Desired: desired}, nil
}

func wrapKubeErr(err error, namespace, name string) error {
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("deployment %s/%s: %w", namespace, name, sentinel.ErrNotFound)
	}
	return fmt.Errorf("deployment %s/%s: %w", namespace, name, err)
}
