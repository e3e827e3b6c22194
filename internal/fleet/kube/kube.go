// Package kube implements fleet.Provider on Kubernetes Deployments. Each
// selected Deployment is an instance: stopping scales it to zero and starting
// restores the replica count it had before.
package kube

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"fleetgate/internal/fleet"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	appsv1client "k8s.io/client-go/kubernetes/typed/apps/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// replicasAnnotation remembers the replica count across a stop.
	replicasAnnotation = "fleetgate.io/replicas"
	nameLabel          = "app.kubernetes.io/name"
)

// Provider manages Deployments in one namespace matching a label selector.
type Provider struct {
	clientset kubernetes.Interface
	namespace string
	selector  string
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// New tries in-cluster configuration first and falls back to kubeconfig
// (the given path, or ~/.kube/config) for local development.
func New(namespace, selector, kubeconfig string) (*Provider, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		log.Printf("In-cluster config not available, trying kubeconfig: %v", err)
		if kubeconfig == "" {
			kubeconfig = filepath.Join(homeDir(), ".kube", "config")
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
		log.Printf("Using kubeconfig: %s", kubeconfig)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return NewWithClientset(clientset, namespace, selector), nil
}

// NewWithClientset wraps an existing clientset.
func NewWithClientset(clientset kubernetes.Interface, namespace, selector string) *Provider {
	if namespace == "" {
		namespace = "default"
	}
	return &Provider{clientset: clientset, namespace: namespace, selector: selector}
}

// ListInstances lists the selected Deployments.
func (p *Provider) ListInstances(ctx context.Context) ([]fleet.Instance, error) {
	list, err := p.deployments().List(ctx, metav1.ListOptions{LabelSelector: p.selector})
	if err != nil {
		return nil, classify("ListInstances", err)
	}

	out := make([]fleet.Instance, 0, len(list.Items))
	for i := range list.Items {
		d := &list.Items[i]
		name := d.Labels[nameLabel]
		if name == "" {
			name = d.Name
		}
		out = append(out, fleet.Instance{
			ID:    d.Name,
			Name:  name,
			State: deploymentState(d),
		})
	}
	return out, nil
}

// StartInstance scales a stopped Deployment back to its remembered size.
func (p *Provider) StartInstance(ctx context.Context, id string) error {
	d, err := p.get(ctx, "StartInstance", id)
	if err != nil {
		return err
	}
	if replicas(d) > 0 {
		return nil
	}

	want := int32(1)
	if n, err := strconv.Atoi(d.Annotations[replicasAnnotation]); err == nil && n > 0 {
		want = int32(n)
	}
	d.Spec.Replicas = &want
	delete(d.Annotations, replicasAnnotation)

	if _, err := p.deployments().Update(ctx, d, metav1.UpdateOptions{}); err != nil {
		return classify("StartInstance", err)
	}
	return nil
}

// StopInstance records the current size and scales the Deployment to zero.
func (p *Provider) StopInstance(ctx context.Context, id string) error {
	d, err := p.get(ctx, "StopInstance", id)
	if err != nil {
		return err
	}
	current := replicas(d)
	if current == 0 {
		return nil
	}

	if d.Annotations == nil {
		d.Annotations = map[string]string{}
	}
	d.Annotations[replicasAnnotation] = strconv.Itoa(int(current))
	zero := int32(0)
	d.Spec.Replicas = &zero

	if _, err := p.deployments().Update(ctx, d, metav1.UpdateOptions{}); err != nil {
		return classify("StopInstance", err)
	}
	return nil
}

// Ping asks the API server for its version.
func (p *Provider) Ping(ctx context.Context) error {
	if _, err := p.clientset.Discovery().ServerVersion(); err != nil {
		return classify("Ping", err)
	}
	return nil
}

func (p *Provider) deployments() appsv1client.DeploymentInterface {
	return p.clientset.AppsV1().Deployments(p.namespace)
}

// get fetches a Deployment and rejects ones outside the selector or being deleted.
func (p *Provider) get(ctx context.Context, op, id string) (*appsv1.Deployment, error) {
	d, err := p.deployments().Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return nil, classify(op, err)
	}
	if !p.selected(d) {
		return nil, fleet.NewError(fleet.KindNotFound, op, "NotFound", fleet.ErrInstanceNotFound)
	}
	if d.DeletionTimestamp != nil {
		return nil, fleet.NewError(fleet.KindInvalidState, op, "Terminating",
			fmt.Errorf("deployment %s is being deleted", id))
	}
	return d, nil
}

func (p *Provider) selected(d *appsv1.Deployment) bool {
	sel, err := labels.Parse(p.selector)
	if err != nil {
		return false
	}
	return sel.Matches(labels.Set(d.Labels))
}

func replicas(d *appsv1.Deployment) int32 {
	if d.Spec.Replicas == nil {
		return 1
	}
	return *d.Spec.Replicas
}

// deploymentState maps desired and observed replicas onto instance states.
func deploymentState(d *appsv1.Deployment) fleet.State {
	if d.DeletionTimestamp != nil {
		return fleet.StateShuttingDown
	}
	want := replicas(d)
	if want == 0 {
		if d.Status.Replicas > 0 {
			return fleet.StateStopping
		}
		return fleet.StateStopped
	}
	if d.Status.ReadyReplicas >= want {
		return fleet.StateRunning
	}
	return fleet.StatePending
}

func classify(op string, err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return fleet.NewError(fleet.KindNotFound, op, "NotFound", err)
	case apierrors.IsForbidden(err):
		return fleet.NewError(fleet.KindPermission, op, "Forbidden", err)
	case apierrors.IsUnauthorized(err):
		return fleet.NewError(fleet.KindPermission, op, "Unauthorized", err)
	case apierrors.IsConflict(err):
		return fleet.NewError(fleet.KindUnavailable, op, "Conflict", err)
	default:
		return fleet.NewError(fleet.KindUnavailable, op, "", err)
	}
}
