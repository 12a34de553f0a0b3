package cluster

import (
	"fmt"
	"hazeltopo/client"
	"time"
)

type configBuilder struct {
	keyPath string
}

const defaultKeyPath = "cluster"

func PopulateTimeouts(a client.ConfigPropertyAssigner) (Timeouts, error) {
	return configBuilder{defaultKeyPath}.populateTimeouts(a)
}

func PopulateK8sAccessConfig(a client.ConfigPropertyAssigner) (*K8sAccessConfig, error) {
	return configBuilder{defaultKeyPath}.populateK8sAccessConfig(a)
}

func (b configBuilder) populateTimeouts(a client.ConfigPropertyAssigner) (Timeouts, error) {

	var assignmentOps []func() error

	var t Timeouts
	assignDuration := func(key string, unit time.Duration, target *time.Duration) {
		assignmentOps = append(assignmentOps, func() error {
			return a.Assign(b.keyPath+".timeouts."+key, client.ValidateInt, func(a any) {
				*target = time.Duration(a.(int)) * unit
			})
		})
	}

	assignDuration("startupSeconds", time.Second, &t.Startup)
	assignDuration("shutdownSeconds", time.Second, &t.Shutdown)
	assignDuration("stabilizationSeconds", time.Second, &t.Stabilization)
	assignDuration("quiescenceWindowMs", time.Millisecond, &t.QuiescenceWindow)
	assignDuration("pollIntervalMs", time.Millisecond, &t.PollInterval)

	for i := 0; i < len(assignmentOps); i++ {
		if err := assignmentOps[i](); err != nil {
			return Timeouts{}, err
		}
	}

	return t, nil

}

func (b configBuilder) populateK8sAccessConfig(a client.ConfigPropertyAssigner) (*K8sAccessConfig, error) {

	var assignmentOps []func() error
	k8sKeyPath := b.keyPath + ".k8s"

	ac := &K8sAccessConfig{}
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(k8sKeyPath+".accessMode", validateAccessMode, func(a any) {
			ac.AccessMode = k8sAccessMode(a.(string))
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(k8sKeyPath+".k8sOutOfCluster.kubeconfig", client.ValidateString, func(a any) {
			ac.Kubeconfig = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(k8sKeyPath+".k8sOutOfCluster.namespace", client.ValidateString, func(a any) {
			ac.Namespace = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(k8sKeyPath+".k8sInCluster.labelSelector", client.ValidateString, func(a any) {
			ac.LabelSelector = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(k8sKeyPath+".statefulSet", client.ValidateString, func(a any) {
			ac.StatefulSet = a.(string)
		})
	})

	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(k8sKeyPath+".gracefulShutdownSeconds", client.ValidateNonNegativeInt, func(a any) {
			ac.GracefulShutdownSeconds = a.(int)
		})
	})

	for i := 0; i < len(assignmentOps); i++ {
		if err := assignmentOps[i](); err != nil {
			return nil, err
		}
	}

	return ac, nil

}

func validateAccessMode(path string, a any) error {

	if err := client.ValidateString(path, a); err != nil {
		return err
	}

	switch k8sAccessMode(a.(string)) {
	case k8sOutOfCluster, k8sInCluster:
		return nil
	default:
		return client.NewFailedValueCheck(path, fmt.Sprintf("unknown k8s access mode: %s", a))
	}

}
