package registrar

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

type KubernetesRegistrar struct {
	client     kubernetes.Interface
	namespace  string
	deployment string
}

func NewKubernetes(client kubernetes.Interface, namespace, deployment string) *KubernetesRegistrar {
	return &KubernetesRegistrar{client: client, namespace: namespace, deployment: deployment}
}

// ConnectKubernetes builds a client from the in-cluster config, falling back
// to the default kubeconfig, and verifies the namespace is reachable.
func ConnectKubernetes(ctx context.Context, namespace, deployment string) (*KubernetesRegistrar, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	if _, err := client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{}); err != nil {
		return nil, fmt.Errorf("k8s namespace check: %w", err)
	}
	return NewKubernetes(client, namespace, deployment), nil
}

func (k *KubernetesRegistrar) BackendName() string {
	return "kubernetes"
}

func (k *KubernetesRegistrar) Create(ctx context.Context, spec ServiceSpec) (*Descriptor, error) {
	svc := buildService(spec, k.namespace, k.deployment)
	services := k.client.CoreV1().Services(k.namespace)

	created, err := services.Create(ctx, svc, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		existing, getErr := services.Get(ctx, svc.Name, metav1.GetOptions{})
		if getErr != nil {
			return nil, fmt.Errorf("get service %s: %w", svc.Name, getErr)
		}
		existing.Labels = svc.Labels
		existing.Spec.Selector = svc.Spec.Selector
		existing.Spec.Ports = svc.Spec.Ports
		created, err = services.Update(ctx, existing, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("create service %s: %w", svc.Name, err)
	}
	d := describe(created)
	return &d, nil
}

func (k *KubernetesRegistrar) Delete(ctx context.Context, name string) error {
	err := k.client.CoreV1().Services(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete service %s: %w", name, err)
	}
	return nil
}

func (k *KubernetesRegistrar) List(ctx context.Context, selector map[string]string) ([]Descriptor, error) {
	list, err := k.client.CoreV1().Services(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make([]Descriptor, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, describe(&list.Items[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (k *KubernetesRegistrar) ReplicaPods(ctx context.Context) ([]string, error) {
	pods, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelApp + "=" + k.deployment,
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	names := make([]string, 0, len(pods.Items))
	for _, p := range pods.Items {
		names = append(names, p.Name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, oj := ordinal(names[i]), ordinal(names[j])
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	return names, nil
}

// ordinal returns the statefulset ordinal suffix of a pod name, or -1.
func ordinal(pod string) int {
	i := strings.LastIndexByte(pod, '-')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(pod[i+1:])
	if err != nil {
		return -1
	}
	return n
}

func buildService(spec ServiceSpec, ns, deployment string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: ns,
			Labels:    ServiceLabels(spec.Name, deployment, spec.Labels),
		},
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeClusterIP,
			Selector: map[string]string{
				LabelApp:     deployment,
				LabelPodName: spec.OwnerPod,
			},
			Ports: []corev1.ServicePort{
				{
					Name:       "tunnel",
					Port:       int32(spec.Port),
					TargetPort: intstr.FromInt32(int32(spec.TargetPort)),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

func describe(svc *corev1.Service) Descriptor {
	d := Descriptor{
		Name:      svc.Name,
		OwnerPod:  svc.Spec.Selector[LabelPodName],
		Labels:    svc.Labels,
		CreatedAt: svc.CreationTimestamp.Time,
	}
	if len(svc.Spec.Ports) > 0 {
		d.Port = int(svc.Spec.Ports[0].Port)
		d.TargetPort = svc.Spec.Ports[0].TargetPort.IntValue()
	}
	return d
}
