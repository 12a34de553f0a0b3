package cluster

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/grid"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	k8sNamespaceEnvVariable = "POD_NAMESPACE"
	k8sServiceAccountNsFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

const (
	k8sOutOfCluster k8sAccessMode = "k8sOutOfCluster"
	k8sInCluster    k8sAccessMode = "k8sInCluster"
)

var (
	errNoPodForMember    = errors.New("no pod found whose ip matches member address")
	errNotStatefulSetPod = errors.New("pod name does not carry a statefulset ordinal")
)

type (
	k8sAccessMode string
	K8sAccessConfig struct {
		AccessMode              k8sAccessMode
		Kubeconfig              string
		Namespace               string
		LabelSelector           string
		StatefulSet             string
		GracefulShutdownSeconds int
	}
	k8sConfigBuilder interface {
		buildForOutOfClusterAccess(masterUrl, kubeconfigPath string) (*rest.Config, error)
		buildForInClusterAccess() (*rest.Config, error)
	}
	k8sClientsetInitializer interface {
		init(c *rest.Config) (kubernetes.Interface, error)
	}
	k8sClientsetProvider interface {
		getOrInit(ac *K8sAccessConfig) (kubernetes.Interface, error)
	}
	k8sNamespaceDiscoverer interface {
		getOrDiscover(ac *K8sAccessConfig) (string, error)
	}
	defaultK8sConfigBuilder        struct{}
	defaultK8sClientsetInitializer struct{}
	defaultK8sClientsetProvider    struct {
		configBuilder        k8sConfigBuilder
		clientsetInitializer k8sClientsetInitializer
		cs                   kubernetes.Interface
	}
	defaultK8sNamespaceDiscoverer struct {
		discoveredNamespace string
	}
	// k8sMemberLauncher runs members as pods of a statefulset. Starting a member scales the statefulset up by one;
	// a graceful shutdown of the highest ordinal scales it back down so the pod is not recreated.
	k8sMemberLauncher struct {
		ac                  *K8sAccessConfig
		clientsetProvider   k8sClientsetProvider
		namespaceDiscoverer k8sNamespaceDiscoverer
		mu                  sync.Mutex
	}
)

func NewK8sController(ac *K8sAccessConfig, view grid.MembershipView, t Timeouts) *Controller {

	l := &k8sMemberLauncher{
		ac: ac,
		clientsetProvider: &defaultK8sClientsetProvider{
			configBuilder:        &defaultK8sConfigBuilder{},
			clientsetInitializer: &defaultK8sClientsetInitializer{},
		},
		namespaceDiscoverer: &defaultK8sNamespaceDiscoverer{},
	}

	return newController(l, view, t)

}

func (b *defaultK8sConfigBuilder) buildForOutOfClusterAccess(masterUrl, kubeconfigPath string) (*rest.Config, error) {

	return clientcmd.BuildConfigFromFlags(masterUrl, kubeconfigPath)

}

func (b *defaultK8sConfigBuilder) buildForInClusterAccess() (*rest.Config, error) {

	return rest.InClusterConfig()

}

func (i *defaultK8sClientsetInitializer) init(c *rest.Config) (kubernetes.Interface, error) {

	return kubernetes.NewForConfig(c)

}

func (p *defaultK8sClientsetProvider) getOrInit(ac *K8sAccessConfig) (kubernetes.Interface, error) {

	if p.cs != nil {
		return p.cs, nil
	}

	lp.LogClusterEvent(fmt.Sprintf("initializing kubernetes clientset for access mode '%s'", ac.AccessMode), log.InfoLevel)

	var config *rest.Config
	switch ac.AccessMode {
	case k8sOutOfCluster:
		kubeconfig := ac.Kubeconfig
		if kubeconfig == "default" {
			kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
		}
		lp.LogClusterEvent(fmt.Sprintf("using kubeconfig path '%s' to initialize kubernetes rest.config", kubeconfig), log.TraceLevel)
		c, err := p.configBuilder.buildForOutOfClusterAccess("", kubeconfig)
		if err != nil {
			lp.LogClusterEvent(fmt.Sprintf("unable to initialize rest.config for access mode '%s': %v", ac.AccessMode, err), log.ErrorLevel)
			return nil, err
		}
		config = c
	case k8sInCluster:
		c, err := p.configBuilder.buildForInClusterAccess()
		if err != nil {
			lp.LogClusterEvent(fmt.Sprintf("unable to initialize rest.config for access mode '%s': %v", ac.AccessMode, err), log.ErrorLevel)
			return nil, err
		}
		config = c
	default:
		return nil, fmt.Errorf("encountered unknown k8s access mode: %s", ac.AccessMode)
	}

	cs, err := p.clientsetInitializer.init(config)
	if err != nil {
		return nil, err
	}
	p.cs = cs

	return p.cs, nil

}

func (d *defaultK8sNamespaceDiscoverer) getOrDiscover(ac *K8sAccessConfig) (string, error) {

	if d.discoveredNamespace != "" {
		return d.discoveredNamespace, nil
	}

	var namespace string
	switch ac.AccessMode {
	case k8sOutOfCluster:
		namespace = ac.Namespace
	case k8sInCluster:
		if ns, ok := os.LookupEnv(k8sNamespaceEnvVariable); ok {
			namespace = ns
		} else if data, err := os.ReadFile(k8sServiceAccountNsFile); err == nil {
			namespace = strings.TrimSpace(string(data))
		}
		if namespace == "" {
			return "", fmt.Errorf("kubernetes namespace discovery failed: namespace neither present in environment variable '%s' nor in serviceaccount file", k8sNamespaceEnvVariable)
		}
	default:
		return "", fmt.Errorf("cannot perform kubernetes namespace discovery for access mode '%s'", ac.AccessMode)
	}

	d.discoveredNamespace = namespace
	return namespace, nil

}

func (l *k8sMemberLauncher) clientsetAndNamespace() (kubernetes.Interface, string, error) {

	cs, err := l.clientsetProvider.getOrInit(l.ac)
	if err != nil {
		return nil, "", err
	}

	ns, err := l.namespaceDiscoverer.getOrDiscover(l.ac)
	if err != nil {
		return nil, "", err
	}

	return cs, ns, nil

}

// launch scales the stateful set up by one. Its pod template decides which features the new member runs with, so
// requested features are only logged.
func (l *k8sMemberLauncher) launch(ctx context.Context, mc MemberConfig) error {

	if len(mc.Features) > 0 {
		lp.LogClusterEvent(fmt.Sprintf("member '%s' requested features %v; stateful set '%s' pod template applies instead",
			mc.Name, mc.Features, l.ac.StatefulSet), log.InfoLevel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ns, err := l.clientsetAndNamespace()
	if err != nil {
		return err
	}

	return l.scaleBy(ctx, cs, ns, 1)

}

func (l *k8sMemberLauncher) shutdown(ctx context.Context, h MemberHandle) error {

	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ns, err := l.clientsetAndNamespace()
	if err != nil {
		return err
	}

	highest, err := l.isHighestOrdinal(ctx, cs, ns, h.Name)
	if err != nil {
		return err
	}
	if highest {
		lp.LogClusterEvent(fmt.Sprintf("pod '%s' carries highest ordinal -- scaling down statefulset '%s'", h.Name, l.ac.StatefulSet), log.DebugLevel)
		return l.scaleBy(ctx, cs, ns, -1)
	}

	grace := int64(l.ac.GracefulShutdownSeconds)
	return cs.CoreV1().Pods(ns).Delete(ctx, h.Name, metav1.DeleteOptions{GracePeriodSeconds: &grace})

}

func (l *k8sMemberLauncher) terminate(ctx context.Context, h MemberHandle) error {

	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ns, err := l.clientsetAndNamespace()
	if err != nil {
		return err
	}

	highest, err := l.isHighestOrdinal(ctx, cs, ns, h.Name)
	if err != nil {
		return err
	}

	grace := int64(0)
	if err := cs.CoreV1().Pods(ns).Delete(ctx, h.Name, metav1.DeleteOptions{GracePeriodSeconds: &grace}); err != nil {
		return err
	}

	if highest {
		return l.scaleBy(ctx, cs, ns, -1)
	}

	return nil

}

func (l *k8sMemberLauncher) nameOf(ctx context.Context, m grid.Member) (string, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ns, err := l.clientsetAndNamespace()
	if err != nil {
		return "", err
	}

	host, _, err := net.SplitHostPort(m.Address)
	if err != nil {
		host = m.Address
	}

	pods, err := cs.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: l.ac.LabelSelector})
	if err != nil {
		return "", err
	}

	if p := podWithIP(pods.Items, host); p != nil {
		return p.Name, nil
	}

	return "", fmt.Errorf("%w: %s", errNoPodForMember, m.Address)

}

func (l *k8sMemberLauncher) scaleBy(ctx context.Context, cs kubernetes.Interface, ns string, delta int32) error {

	scale, err := cs.AppsV1().StatefulSets(ns).GetScale(ctx, l.ac.StatefulSet, metav1.GetOptions{})
	if err != nil {
		return err
	}

	scale.Spec.Replicas += delta
	if scale.Spec.Replicas < 0 {
		scale.Spec.Replicas = 0
	}
	lp.LogClusterEvent(fmt.Sprintf("scaling statefulset '%s' in namespace '%s' to %d replica/-s", l.ac.StatefulSet, ns, scale.Spec.Replicas), log.InfoLevel)

	_, err = cs.AppsV1().StatefulSets(ns).UpdateScale(ctx, l.ac.StatefulSet, scale, metav1.UpdateOptions{})
	return err

}

func (l *k8sMemberLauncher) isHighestOrdinal(ctx context.Context, cs kubernetes.Interface, ns, podName string) (bool, error) {

	ordinal, err := ordinalOf(l.ac.StatefulSet, podName)
	if err != nil {
		return false, err
	}

	scale, err := cs.AppsV1().StatefulSets(ns).GetScale(ctx, l.ac.StatefulSet, metav1.GetOptions{})
	if err != nil {
		return false, err
	}

	return ordinal == int(scale.Spec.Replicas)-1, nil

}

func ordinalOf(statefulSet, podName string) (int, error) {

	prefix := statefulSet + "-"
	if !strings.HasPrefix(podName, prefix) {
		return -1, fmt.Errorf("%w: %s", errNotStatefulSetPod, podName)
	}

	ordinal, err := strconv.Atoi(strings.TrimPrefix(podName, prefix))
	if err != nil || ordinal < 0 {
		return -1, fmt.Errorf("%w: %s", errNotStatefulSetPod, podName)
	}

	return ordinal, nil

}

func podWithIP(pods []v1.Pod, ip string) *v1.Pod {

	for i := range pods {
		if pods[i].Status.PodIP == ip {
			return &pods[i]
		}
	}

	return nil

}
